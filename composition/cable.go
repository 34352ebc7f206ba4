package composition

// Cable is a directed connection from an output port to an input port.
type Cable struct {
	From *Port
	To   *Port

	// EventOnly restricts the cable to events even when both endpoints
	// carry data.
	EventOnly bool

	// DataOnly marks a cable that propagates data without generating an
	// event (drawer-style connections and initial published values).
	DataOnly bool
}

// CarriesData reports whether a transmission through this cable moves a
// data value.
func (c *Cable) CarriesData() bool {
	return !c.EventOnly && c.From.HasData() && c.To.HasData()
}

// CarriesEvent reports whether a transmission through this cable sets the
// destination's event flag.
func (c *Cable) CarriesEvent() bool {
	return !c.DataOnly
}
