// Package catalog provides the built-in data types and node classes the
// runner and the test suite compose with.
package catalog

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/patchwork-dev/patchwork/composition"
)

// Point2D is the canonical in-memory form of pw.point2d.
type Point2D struct {
	X float64
	Y float64
}

var (
	integerType *composition.DataType
	realType    *composition.DataType
	textType    *composition.DataType
	point2DType *composition.DataType
)

func init() {
	integerType = &composition.DataType{
		Name:   "pw.integer",
		GoType: reflect.TypeOf(int64(0)),
		MakeFromJSON: func(s string) int64 {
			if s == "" {
				return 0
			}
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0
			}
			return v
		},
		GetJSON:    func(v int64) string { return strconv.FormatInt(v, 10) },
		GetSummary: func(v int64) string { return strconv.FormatInt(v, 10) },
		AreEqual:   func(a, b int64) bool { return a == b },
		IsLessThan: func(a, b int64) bool { return a < b },
	}

	realType = &composition.DataType{
		Name:   "pw.real",
		GoType: reflect.TypeOf(float64(0)),
		MakeFromJSON: func(s string) float64 {
			if s == "" {
				return 0
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0
			}
			return v
		},
		GetJSON:    func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
		GetSummary: func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
		AreEqual:   func(a, b float64) bool { return a == b },
		IsLessThan: func(a, b float64) bool { return a < b },
	}

	textType = &composition.DataType{
		Name:   "pw.text",
		GoType: reflect.TypeOf(""),
		MakeFromJSON: func(s string) string {
			if s == "" {
				return ""
			}
			var out string
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return s
			}
			return out
		},
		GetJSON: func(v string) string {
			blob, _ := json.Marshal(v)
			return string(blob)
		},
		GetSummary: func(v string) string {
			if len(v) > 50 {
				return v[:50] + "…"
			}
			return v
		},
		AreEqual: func(a, b string) bool { return a == b },
	}

	point2DType = &composition.DataType{
		Name:   "pw.point2d",
		GoType: reflect.TypeOf(Point2D{}),
		MakeFromJSON: func(s string) Point2D {
			var p Point2D
			if s == "" {
				return p
			}
			json.Unmarshal([]byte(s), &p)
			return p
		},
		GetJSON: func(p Point2D) string {
			blob, _ := json.Marshal(p)
			return string(blob)
		},
		GetSummary: func(p Point2D) string {
			return fmt.Sprintf("(%g, %g)", p.X, p.Y)
		},
		AreEqual: func(a, b Point2D) bool { return a == b },
	}
}

// IntegerType returns the pw.integer data type.
func IntegerType() *composition.DataType { return integerType }

// RealType returns the pw.real data type.
func RealType() *composition.DataType { return realType }

// TextType returns the pw.text data type.
func TextType() *composition.DataType { return textType }

// Point2DType returns the pw.point2d data type.
func Point2DType() *composition.DataType { return point2DType }

// Types returns every built-in data type.
func Types() []*composition.DataType {
	return []*composition.DataType{integerType, realType, textType, point2DType}
}
