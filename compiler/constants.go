package compiler

import (
	"fmt"
	"strings"
)

// StringConstant is a string interned into the generated module.
type StringConstant struct {
	Name  string
	Value string
}

// IndexArrayConstant is an array of node or port indices interned into
// the generated module.
type IndexArrayConstant struct {
	Name   string
	Values []uint64
}

// ConstantsCache de-duplicates the string and index-array constants
// emitted into a module. Single-threaded; codegen never runs
// concurrently.
type ConstantsCache struct {
	moduleKey string

	strings map[string]*StringConstant
	arrays  map[string]*IndexArrayConstant

	stringCounter int
	arrayCounter  int
}

// NewConstantsCache creates a cache whose constants are named with the
// given module key prefix.
func NewConstantsCache(moduleKey string) *ConstantsCache {
	return &ConstantsCache{
		moduleKey: moduleKey,
		strings:   make(map[string]*StringConstant),
		arrays:    make(map[string]*IndexArrayConstant),
	}
}

// GetString returns the interned constant for s, creating it on first
// use. Equal keys return the identical constant.
func (c *ConstantsCache) GetString(s string) *StringConstant {
	if existing, ok := c.strings[s]; ok {
		return existing
	}
	constant := &StringConstant{
		Name:  fmt.Sprintf("%s__string%d", c.moduleKey, c.stringCounter),
		Value: s,
	}
	c.stringCounter++
	c.strings[s] = constant
	return constant
}

// GetIndexArray returns the interned constant for the given indices,
// creating it on first use.
func (c *ConstantsCache) GetIndexArray(values []uint64) *IndexArrayConstant {
	key := indexArrayKey(values)
	if existing, ok := c.arrays[key]; ok {
		return existing
	}
	copied := make([]uint64, len(values))
	copy(copied, values)
	constant := &IndexArrayConstant{
		Name:   fmt.Sprintf("%s__array%d", c.moduleKey, c.arrayCounter),
		Values: copied,
	}
	c.arrayCounter++
	c.arrays[key] = constant
	return constant
}

func indexArrayKey(values []uint64) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%d,", v)
	}
	return b.String()
}
