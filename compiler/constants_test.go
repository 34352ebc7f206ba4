package compiler

import "testing"

func TestConstantsCache_StringInterning(t *testing.T) {
	cache := NewConstantsCache("TestComp")

	a := cache.GetString("hello")
	b := cache.GetString("hello")
	c := cache.GetString("world")

	if a != b {
		t.Errorf("equal keys should return the identical constant")
	}
	if a == c {
		t.Errorf("different keys should return different constants")
	}
	if a.Value != "hello" {
		t.Errorf("constant value = %q, want %q", a.Value, "hello")
	}
	if a.Name == c.Name {
		t.Errorf("constants should have distinct names")
	}
	if got := a.Name[:8]; got != "TestComp" {
		t.Errorf("constant names should carry the module key prefix, got %q", a.Name)
	}
}

func TestConstantsCache_IndexArrayInterning(t *testing.T) {
	cache := NewConstantsCache("TestComp")

	a := cache.GetIndexArray([]uint64{1, 2, 3})
	b := cache.GetIndexArray([]uint64{1, 2, 3})
	c := cache.GetIndexArray([]uint64{1, 2})

	if a != b {
		t.Errorf("equal keys should return the identical constant")
	}
	if a == c {
		t.Errorf("different keys should return different constants")
	}

	// The cached copy must not alias the caller's slice.
	src := []uint64{9, 8}
	d := cache.GetIndexArray(src)
	src[0] = 7
	if d.Values[0] != 9 {
		t.Errorf("cache should copy its key slice")
	}
}
