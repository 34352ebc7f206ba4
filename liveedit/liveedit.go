// Package liveedit computes which nodes a composition edit adds, removes,
// or replaces, and arms the runtime gates that make init and fini skip
// them while the edit is in flight. Edits travel as RFC 6902 JSON patches
// against the composition's node roster.
package liveedit

import (
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// Descriptor is the diffable form of a composition: its node roster,
// keyed by graph identifier, valued by node class name.
type Descriptor struct {
	Nodes map[string]string `json:"nodes"`
}

// DescriptorFor extracts the roster from a prepared composition.
func DescriptorFor(comp *composition.Composition) (*Descriptor, error) {
	if err := comp.Prepare(); err != nil {
		return nil, err
	}
	d := &Descriptor{Nodes: make(map[string]string)}
	for _, n := range comp.Nodes {
		if n.IsSynthesized() {
			continue
		}
		d.Nodes[n.Identifier()] = n.Class.Name
	}
	return d, nil
}

// ApplyPatch applies a JSON patch to the descriptor, returning the
// patched roster.
func ApplyPatch(base *Descriptor, patchJSON []byte) (*Descriptor, error) {
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	patchedJSON, err := patch.Apply(baseJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch: %w", err)
	}

	var patched Descriptor
	if err := json.Unmarshal(patchedJSON, &patched); err != nil {
		return nil, fmt.Errorf("patched descriptor is malformed: %w", err)
	}
	if patched.Nodes == nil {
		patched.Nodes = make(map[string]string)
	}
	return &patched, nil
}

// Diff is the node-level difference between two rosters. A node present
// in both under the same identifier but a different class is replaced: it
// counts as both being added and being removed.
type Diff struct {
	Added    []string
	Removed  []string
	Replaced []string
}

// ComputeDiff diffs two rosters.
func ComputeDiff(old, updated *Descriptor) *Diff {
	d := &Diff{}
	for id, class := range updated.Nodes {
		oldClass, existed := old.Nodes[id]
		switch {
		case !existed:
			d.Added = append(d.Added, id)
		case oldClass != class:
			d.Replaced = append(d.Replaced, id)
		}
	}
	for id := range old.Nodes {
		if _, exists := updated.Nodes[id]; !exists {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Replaced)
	return d
}

// Arm marks the diff's nodes on the runtime gates, under the given
// composition identifier. init skips nodes being added or replaced; fini
// skips nodes being removed or replaced.
func (d *Diff) Arm(st *runtime.State, compositionIdentifier string) {
	for _, id := range d.Added {
		st.SetNodeBeingAddedOrReplaced(qualify(compositionIdentifier, id), true)
	}
	for _, id := range d.Removed {
		st.SetNodeBeingRemovedOrReplaced(qualify(compositionIdentifier, id), true)
	}
	for _, id := range d.Replaced {
		st.SetNodeBeingAddedOrReplaced(qualify(compositionIdentifier, id), true)
		st.SetNodeBeingRemovedOrReplaced(qualify(compositionIdentifier, id), true)
	}
}

// Disarm clears the gates armed by Arm.
func (d *Diff) Disarm(st *runtime.State, compositionIdentifier string) {
	for _, id := range d.Added {
		st.SetNodeBeingAddedOrReplaced(qualify(compositionIdentifier, id), false)
	}
	for _, id := range d.Removed {
		st.SetNodeBeingRemovedOrReplaced(qualify(compositionIdentifier, id), false)
	}
	for _, id := range d.Replaced {
		st.SetNodeBeingAddedOrReplaced(qualify(compositionIdentifier, id), false)
		st.SetNodeBeingRemovedOrReplaced(qualify(compositionIdentifier, id), false)
	}
}

func qualify(compositionIdentifier, nodeID string) string {
	return composition.BuildCompositionIdentifier(compositionIdentifier, nodeID)
}
