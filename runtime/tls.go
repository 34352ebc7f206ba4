package runtime

import (
	"bytes"
	goruntime "runtime"
	"strconv"
	"sync"
)

// Node implementations occasionally need to know which composition
// instance they're executing in (e.g. to address telemetry) without that
// threading through the node ABI. The generated code announces the
// composition state for the current goroutine around each node call.

var tlsStates sync.Map // goroutine id -> *CompositionState

// AddCompositionStateToThreadLocalStorage announces the composition state
// for the calling goroutine.
func AddCompositionStateToThreadLocalStorage(cs *CompositionState) {
	tlsStates.Store(goroutineID(), cs)
}

// RemoveCompositionStateFromThreadLocalStorage clears the announcement.
func RemoveCompositionStateFromThreadLocalStorage() {
	tlsStates.Delete(goroutineID())
}

// CompositionStateFromThreadLocalStorage returns the composition state
// announced for the calling goroutine, or nil.
func CompositionStateFromThreadLocalStorage() *CompositionState {
	v, ok := tlsStates.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*CompositionState)
}

// goroutineID parses the current goroutine's id out of the stack header
// ("goroutine 123 [running]:"). Slow, but these lookups bracket node
// calls, not inner loops.
func goroutineID() uint64 {
	var buf [64]byte
	n := goruntime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}
