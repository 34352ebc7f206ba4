package runtime

import "sync"

// RefLedger tracks retain/release balance for port data values. Data
// ownership in Go is the garbage collector's problem, but the generated
// code still performs the retain/release protocol so that types with
// external resources stay balanced and so that the balance is observable
// in tests.
type RefLedger struct {
	mu     sync.Mutex
	counts map[refKey]int
}

type refKey struct {
	typeName string
	value    any
}

// NewRefLedger creates an empty ledger.
func NewRefLedger() *RefLedger {
	return &RefLedger{counts: make(map[refKey]int)}
}

// Retain increments the count for a value.
func (l *RefLedger) Retain(typeName string, value any) {
	if !isMapKeyable(value) {
		return
	}
	k := refKey{typeName, value}
	l.mu.Lock()
	l.counts[k]++
	l.mu.Unlock()
}

// Release decrements the count for a value.
func (l *RefLedger) Release(typeName string, value any) {
	if !isMapKeyable(value) {
		return
	}
	k := refKey{typeName, value}
	l.mu.Lock()
	l.counts[k]--
	if l.counts[k] == 0 {
		delete(l.counts, k)
	}
	l.mu.Unlock()
}

// Count returns the current net retain count for a value.
func (l *RefLedger) Count(typeName string, value any) int {
	if !isMapKeyable(value) {
		return 0
	}
	k := refKey{typeName, value}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[k]
}

// Balanced reports whether every tracked value's count is zero.
func (l *RefLedger) Balanced() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// Outstanding returns the number of values with a nonzero count.
func (l *RefLedger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}

// isMapKeyable guards against values that would panic as map keys.
func isMapKeyable(v any) (ok bool) {
	if v == nil {
		return false
	}
	switch v.(type) {
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64, string:
		return true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[any]bool{v: true}
	return true
}
