package runtime

import "sync"

// TelemetryEvent is one telemetry record emitted by generated code or the
// runtime.
type TelemetryEvent interface {
	telemetryEvent()
}

// NodeExecutionStarted reports that a node's event function began.
type NodeExecutionStarted struct {
	CompositionID  string
	NodeIdentifier string
	EventID        uint64
}

// NodeExecutionFinished reports that a node's event function returned.
type NodeExecutionFinished struct {
	CompositionID  string
	NodeIdentifier string
	EventID        uint64
}

// PortUpdate describes one port's state after a transmission.
type PortUpdate struct {
	PortIdentifier string
	ReceivedEvent  bool
	ReceivedData   bool
	Summary        string
}

// InputPortsUpdated reports input ports that saw the event.
type InputPortsUpdated struct {
	CompositionID string
	Ports         []PortUpdate
}

// OutputPortsUpdated reports output ports that saw the event.
type OutputPortsUpdated struct {
	CompositionID string
	Ports         []PortUpdate
}

// PublishedOutputPortsUpdated reports published outputs that saw the
// event.
type PublishedOutputPortsUpdated struct {
	CompositionID string
	Ports         []PortUpdate
}

// EventFinished reports that an event has fully propagated.
type EventFinished struct {
	EventID uint64
}

// EventDropped reports a trigger discarding a fired event under
// back-pressure.
type EventDropped struct {
	CompositionID  string
	PortIdentifier string
}

// UncaughtError reports a runtime error surfaced through telemetry.
type UncaughtError struct {
	Message string
}

// StopRequested reports that the composition asked its host to stop it.
type StopRequested struct{}

func (NodeExecutionStarted) telemetryEvent()        {}
func (NodeExecutionFinished) telemetryEvent()       {}
func (InputPortsUpdated) telemetryEvent()           {}
func (OutputPortsUpdated) telemetryEvent()          {}
func (PublishedOutputPortsUpdated) telemetryEvent() {}
func (EventFinished) telemetryEvent()               {}
func (EventDropped) telemetryEvent()                {}
func (UncaughtError) telemetryEvent()               {}
func (StopRequested) telemetryEvent()               {}

// TelemetrySink receives telemetry events. Send must be safe for
// concurrent use and must not block indefinitely.
type TelemetrySink interface {
	Send(TelemetryEvent)
}

// TelemetryDispatcher fans telemetry out to sinks and tracks which ports
// have data-telemetry subscribers.
type TelemetryDispatcher struct {
	mu           sync.RWMutex
	sinks        []TelemetrySink
	portDataSubs map[string]int
	allPortData  int
}

// NewTelemetryDispatcher creates a dispatcher with no sinks.
func NewTelemetryDispatcher() *TelemetryDispatcher {
	return &TelemetryDispatcher{portDataSubs: make(map[string]int)}
}

// AddSink registers a sink.
func (d *TelemetryDispatcher) AddSink(s TelemetrySink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// RemoveSink unregisters a sink.
func (d *TelemetryDispatcher) RemoveSink(s TelemetrySink) {
	d.mu.Lock()
	for i, existing := range d.sinks {
		if existing == s {
			d.sinks = append(d.sinks[:i], d.sinks[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
}

// Send delivers the event to every sink.
func (d *TelemetryDispatcher) Send(ev TelemetryEvent) {
	d.mu.RLock()
	sinks := make([]TelemetrySink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()
	for _, s := range sinks {
		s.Send(ev)
	}
}

// SubscribePortData adds a data-telemetry subscription for a port, or for
// all ports when portID is "".
func (d *TelemetryDispatcher) SubscribePortData(portID string) {
	d.mu.Lock()
	if portID == "" {
		d.allPortData++
	} else {
		d.portDataSubs[portID]++
	}
	d.mu.Unlock()
}

// UnsubscribePortData removes a data-telemetry subscription.
func (d *TelemetryDispatcher) UnsubscribePortData(portID string) {
	d.mu.Lock()
	if portID == "" {
		if d.allPortData > 0 {
			d.allPortData--
		}
	} else if d.portDataSubs[portID] > 0 {
		d.portDataSubs[portID]--
		if d.portDataSubs[portID] == 0 {
			delete(d.portDataSubs, portID)
		}
	}
	d.mu.Unlock()
}

// ShouldSendPortDataTelemetry reports whether any subscriber wants data
// summaries for the port. Event flags are always reported; summaries are
// computed only on demand.
func (d *TelemetryDispatcher) ShouldSendPortDataTelemetry(portID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allPortData > 0 || d.portDataSubs[portID] > 0
}

// TelemetryRecorder is a sink that accumulates events, for tests.
type TelemetryRecorder struct {
	mu     sync.Mutex
	events []TelemetryEvent
}

// NewTelemetryRecorder creates an empty recorder.
func NewTelemetryRecorder() *TelemetryRecorder {
	return &TelemetryRecorder{}
}

// Send records the event.
func (r *TelemetryRecorder) Send(ev TelemetryEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a snapshot of recorded events.
func (r *TelemetryRecorder) Events() []TelemetryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TelemetryEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Reset clears recorded events.
func (r *TelemetryRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
