package liveedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchwork/runtime"
)

func TestApplyPatch(t *testing.T) {
	base := &Descriptor{Nodes: map[string]string{
		"Count":   "pw.math.count",
		"Share":   "pw.data.share.integer",
		"OldNode": "pw.data.hold.integer",
	}}

	patch := []byte(`[
		{"op": "add", "path": "/nodes/NewNode", "value": "pw.math.add.integer"},
		{"op": "remove", "path": "/nodes/OldNode"},
		{"op": "replace", "path": "/nodes/Share", "value": "pw.data.hold.integer"}
	]`)

	patched, err := ApplyPatch(base, patch)
	require.NoError(t, err)

	assert.Equal(t, "pw.math.add.integer", patched.Nodes["NewNode"])
	assert.NotContains(t, patched.Nodes, "OldNode")
	assert.Equal(t, "pw.data.hold.integer", patched.Nodes["Share"])

	// The base descriptor is untouched.
	assert.Equal(t, "pw.data.share.integer", base.Nodes["Share"])
}

func TestApplyPatch_Malformed(t *testing.T) {
	base := &Descriptor{Nodes: map[string]string{}}
	_, err := ApplyPatch(base, []byte(`{not a patch`))
	assert.Error(t, err)
}

func TestComputeDiff(t *testing.T) {
	old := &Descriptor{Nodes: map[string]string{
		"A": "pw.data.share.integer",
		"B": "pw.math.count",
		"C": "pw.data.hold.integer",
	}}
	updated := &Descriptor{Nodes: map[string]string{
		"A": "pw.data.share.integer",
		"B": "pw.math.add.integer", // class changed: replaced
		"D": "pw.math.count",       // new
	}}

	diff := ComputeDiff(old, updated)
	assert.Equal(t, []string{"D"}, diff.Added)
	assert.Equal(t, []string{"C"}, diff.Removed)
	assert.Equal(t, []string{"B"}, diff.Replaced)
}

func TestArmAndDisarmGates(t *testing.T) {
	st := runtime.NewState(nil)
	cs := runtime.NewCompositionState(st, "Top")

	diff := &Diff{
		Added:    []string{"New"},
		Removed:  []string{"Old"},
		Replaced: []string{"Swapped"},
	}

	diff.Arm(st, "Top")
	assert.True(t, st.IsNodeBeingAddedOrReplaced(cs, "New"))
	assert.True(t, st.IsNodeBeingRemovedOrReplaced(cs, "Old"))
	// Replaced nodes gate both ways.
	assert.True(t, st.IsNodeBeingAddedOrReplaced(cs, "Swapped"))
	assert.True(t, st.IsNodeBeingRemovedOrReplaced(cs, "Swapped"))

	assert.False(t, st.IsNodeBeingAddedOrReplaced(cs, "New2"))

	diff.Disarm(st, "Top")
	assert.False(t, st.IsNodeBeingAddedOrReplaced(cs, "New"))
	assert.False(t, st.IsNodeBeingRemovedOrReplaced(cs, "Old"))
	assert.False(t, st.IsNodeBeingAddedOrReplaced(cs, "Swapped"))
}
