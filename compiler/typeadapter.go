package compiler

import (
	"reflect"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// TypeAdapter wraps one data type's externally supplied entry points
// behind uniform operations, generating replacements for the optional
// ones, and reconciles each node function's argument lowering with the
// canonical in-memory form.
type TypeAdapter struct {
	dataType *composition.DataType

	// Index is the type's position in the module's ordered type list.
	Index int

	serialize             func(reflect.Value) string
	interprocessSerialize func(reflect.Value) string
	summary               func(reflect.Value) string
	makeFromJSON          func(string) reflect.Value
	retain                func(*runtime.State, reflect.Value)
	release               func(*runtime.State, reflect.Value)
	areEqual              func(a, b reflect.Value) bool
}

// newTypeAdapter wraps the descriptor, generating the missing helpers in
// terms of the provided primitives.
func newTypeAdapter(t *composition.DataType, index int) (*TypeAdapter, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	a := &TypeAdapter{dataType: t, Index: index}

	getJSON := reflect.ValueOf(t.GetJSON)
	a.serialize = func(v reflect.Value) string {
		return getJSON.Call([]reflect.Value{v})[0].String()
	}

	if t.GetInterprocessJSON != nil {
		fn := reflect.ValueOf(t.GetInterprocessJSON)
		a.interprocessSerialize = func(v reflect.Value) string {
			return fn.Call([]reflect.Value{v})[0].String()
		}
	} else {
		// Fall back to the ordinary serialize path.
		a.interprocessSerialize = a.serialize
	}

	if t.GetSummary != nil {
		fn := reflect.ValueOf(t.GetSummary)
		a.summary = func(v reflect.Value) string {
			return fn.Call([]reflect.Value{v})[0].String()
		}
	} else {
		// Generated summary: the serialization, truncated.
		a.summary = func(v reflect.Value) string {
			s := a.serialize(v)
			if len(s) > 256 {
				s = s[:256]
			}
			return s
		}
	}

	makeFn := reflect.ValueOf(t.MakeFromJSON)
	a.makeFromJSON = func(s string) reflect.Value {
		return makeFn.Call([]reflect.Value{reflect.ValueOf(s)})[0]
	}

	// Retain and release always notify the ledger; the type's own entry
	// points run in addition when provided.
	var retainFn, releaseFn reflect.Value
	if t.Retain != nil {
		retainFn = reflect.ValueOf(t.Retain)
	}
	if t.Release != nil {
		releaseFn = reflect.ValueOf(t.Release)
	}
	a.retain = func(st *runtime.State, v reflect.Value) {
		if retainFn.IsValid() {
			retainFn.Call([]reflect.Value{v})
		}
		st.Ledger().Retain(t.Name, v.Interface())
	}
	a.release = func(st *runtime.State, v reflect.Value) {
		if releaseFn.IsValid() {
			releaseFn.Call([]reflect.Value{v})
		}
		st.Ledger().Release(t.Name, v.Interface())
	}

	if t.AreEqual != nil {
		fn := reflect.ValueOf(t.AreEqual)
		a.areEqual = func(x, y reflect.Value) bool {
			return fn.Call([]reflect.Value{x, y})[0].Bool()
		}
	} else {
		a.areEqual = func(x, y reflect.Value) bool {
			return reflect.DeepEqual(x.Interface(), y.Interface())
		}
	}

	return a, nil
}

// DataType returns the wrapped descriptor.
func (a *TypeAdapter) DataType() *composition.DataType { return a.dataType }

// Name returns the type's name.
func (a *TypeAdapter) Name() string { return a.dataType.Name }

// GoType returns the canonical in-memory type.
func (a *TypeAdapter) GoType() reflect.Type { return a.dataType.GoType }

// Serialize renders the value as its JSON serialization.
func (a *TypeAdapter) Serialize(v reflect.Value) string { return a.serialize(v) }

// InterprocessSerialize renders the value for cross-process transfer.
func (a *TypeAdapter) InterprocessSerialize(v reflect.Value) string {
	return a.interprocessSerialize(v)
}

// Summary renders a short human-readable description of the value.
func (a *TypeAdapter) Summary(v reflect.Value) string { return a.summary(v) }

// DeserializeAndRetain parses a serialized value and retains it.
func (a *TypeAdapter) DeserializeAndRetain(st *runtime.State, s string) reflect.Value {
	v := a.makeFromJSON(s)
	a.retain(st, v)
	return v
}

// Retain increments the value's ownership count.
func (a *TypeAdapter) Retain(st *runtime.State, v reflect.Value) { a.retain(st, v) }

// Release decrements the value's ownership count.
func (a *TypeAdapter) Release(st *runtime.State, v reflect.Value) { a.release(st, v) }

// AreEqual compares two values.
func (a *TypeAdapter) AreEqual(x, y reflect.Value) bool { return a.areEqual(x, y) }

// AllocationSize returns the byte size of a heap copy of the value.
func (a *TypeAdapter) AllocationSize() uintptr { return a.dataType.GoType.Size() }

// StorageSize returns the byte size of the value in a port context slot.
func (a *TypeAdapter) StorageSize() uintptr { return a.dataType.GoType.Size() }

// ConvertPortDataToCallArgs converts the canonical stored value into the
// argument(s) a node function expects at the given parameter index,
// returning the argument values and how many parameters they consume.
//
// Three lowerings are reconciled:
//  1. natural: the parameter is the canonical type;
//  2. pointer: the parameter is a pointer to the canonical type (also the
//     shape of the per-function unlowered-struct workaround);
//  3. split pair: a two-field struct lowered to two successive
//     parameters, matched field-wise.
func (a *TypeAdapter) ConvertPortDataToCallArgs(data reflect.Value, fnType reflect.Type,
	paramIndex int, unloweredStructPointer bool) ([]reflect.Value, int, *Issue) {

	canonical := a.dataType.GoType
	if paramIndex >= fnType.NumIn() {
		return nil, 0, unsupportedCompositionIssue(UnsupportedLowering,
			"type %s: function has no parameter at index %d", a.Name(), paramIndex)
	}
	param := fnType.In(paramIndex)

	if unloweredStructPointer {
		if param == reflect.PointerTo(canonical) {
			return []reflect.Value{data.Addr()}, 1, nil
		}
		return nil, 0, unsupportedCompositionIssue(UnsupportedLowering,
			"type %s: parameter %d flagged as unlowered struct pointer but has type %v",
			a.Name(), paramIndex, param)
	}

	switch {
	case param == canonical:
		return []reflect.Value{data}, 1, nil

	case param == reflect.PointerTo(canonical):
		return []reflect.Value{data.Addr()}, 1, nil

	case canonical.Kind() == reflect.Struct && canonical.NumField() == 2 &&
		paramIndex+1 < fnType.NumIn() &&
		param == canonical.Field(0).Type &&
		fnType.In(paramIndex+1) == canonical.Field(1).Type:
		// Split-pair lowering: reassembled by the callee; passed here as
		// the two fields in order.
		return []reflect.Value{data.Field(0), data.Field(1)}, 2, nil
	}

	return nil, 0, unsupportedCompositionIssue(UnsupportedLowering,
		"type %s: no conversion from %v to parameter %d of type %v",
		a.Name(), canonical, paramIndex, param)
}

// ConvertCallArgsToPortData prepares the out-parameter slot a node
// function writes a value of this type through: a fresh addressable
// canonical value and the pointer to pass at the parameter index.
func (a *TypeAdapter) ConvertCallArgsToPortData(fnType reflect.Type, paramIndex int) (slot, arg reflect.Value, issue *Issue) {
	canonical := a.dataType.GoType
	if paramIndex >= fnType.NumIn() {
		return reflect.Value{}, reflect.Value{}, unsupportedCompositionIssue(UnsupportedLowering,
			"type %s: function has no parameter at index %d", a.Name(), paramIndex)
	}
	param := fnType.In(paramIndex)
	if param != reflect.PointerTo(canonical) {
		return reflect.Value{}, reflect.Value{}, unsupportedCompositionIssue(UnsupportedLowering,
			"type %s: output parameter %d has type %v, want %v",
			a.Name(), paramIndex, param, reflect.PointerTo(canonical))
	}
	ptr := reflect.New(canonical)
	return ptr.Elem(), ptr, nil
}
