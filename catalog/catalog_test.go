package catalog

import (
	"testing"

	"github.com/patchwork-dev/patchwork/composition"
)

func TestTypesValidate(t *testing.T) {
	for _, dt := range Types() {
		if err := dt.Validate(); err != nil {
			t.Errorf("type %s: %v", dt.Name, err)
		}
	}
}

func TestClassesValidate(t *testing.T) {
	for _, class := range Classes() {
		if err := class.Validate(); err != nil {
			t.Errorf("class %s: %v", class.Name, err)
		}
	}
}

func TestSpinOffRecognition(t *testing.T) {
	if !composition.IsSpinOffClass(SpinOffEventClass().Name) {
		t.Errorf("pw.event.spinOff should be recognized as a spin-off class")
	}
	if composition.IsSpinOffClass(ShareIntegerClass().Name) {
		t.Errorf("share should not be a spin-off class")
	}
}

func TestTypeRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"pw.integer", "42"},
		{"pw.real", "2.5"},
		{"pw.text", `"hello"`},
		{"pw.point2d", `{"X":1,"Y":2}`},
	}

	byName := map[string]*composition.DataType{}
	for _, dt := range Types() {
		byName[dt.Name] = dt
	}

	for _, tt := range tests {
		dt := byName[tt.name]
		if dt == nil {
			t.Fatalf("type %s not in catalog", tt.name)
		}
		// makeFromJson and getJson are inverses for canonical input.
		switch tt.name {
		case "pw.integer":
			v := dt.MakeFromJSON.(func(string) int64)(tt.json)
			if got := dt.GetJSON.(func(int64) string)(v); got != tt.json {
				t.Errorf("%s: round trip %q -> %q", tt.name, tt.json, got)
			}
		case "pw.real":
			v := dt.MakeFromJSON.(func(string) float64)(tt.json)
			if got := dt.GetJSON.(func(float64) string)(v); got != tt.json {
				t.Errorf("%s: round trip %q -> %q", tt.name, tt.json, got)
			}
		case "pw.text":
			v := dt.MakeFromJSON.(func(string) string)(tt.json)
			if got := dt.GetJSON.(func(string) string)(v); got != tt.json {
				t.Errorf("%s: round trip %q -> %q", tt.name, tt.json, got)
			}
		case "pw.point2d":
			v := dt.MakeFromJSON.(func(string) Point2D)(tt.json)
			if v.X != 1 || v.Y != 2 {
				t.Errorf("%s: parsed %+v", tt.name, v)
			}
		}
	}
}
