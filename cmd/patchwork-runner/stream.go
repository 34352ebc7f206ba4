package main

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/protocol"
	"github.com/patchwork-dev/patchwork/runtime"
)

// Telemetry event kinds a subscriber can filter on. "all" is implied when
// no filter is given.
const (
	kindEvents = "events" // node started/finished, event finished/dropped
	kindPorts  = "ports"  // input/output/published port updates
	kindErrors = "errors" // uncaught errors, stop requests
)

const (
	streamSendTimeout  = 10 * time.Second
	streamQueueDepth   = 256
	streamControlLimit = 4096
)

// TelemetryStream is the runner's telemetry fan-out: it implements
// runtime.TelemetrySink and maintains the WebSocket subscribers watching
// the hosted composition. Each subscriber gets a snapshot of the
// composition on attach, an optional event-kind filter, and a bounded
// queue. A saturated subscriber loses frames, not its connection; the
// loss shows up as a dropped count in its next stats frame.
type TelemetryStream struct {
	log *logger.Logger

	// snapshot renders the composition's current state for a subscriber
	// that just attached. Installed by the server once the module is up.
	snapshot func() *telemetryEnvelope

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// subscriber is one WebSocket peer's view of the stream.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}

	mu    sync.Mutex
	kinds map[string]bool // nil means everything

	dropped atomic.Uint64
}

// NewTelemetryStream creates a stream with no subscribers.
func NewTelemetryStream(log *logger.Logger) *TelemetryStream {
	return &TelemetryStream{
		log:  log,
		subs: make(map[*subscriber]struct{}),
	}
}

// SetSnapshot installs the composition-state renderer sent to new
// subscribers.
func (s *TelemetryStream) SetSnapshot(fn func() *telemetryEnvelope) {
	s.snapshot = fn
}

// Send implements runtime.TelemetrySink. The envelope is marshalled once
// and offered to every subscriber whose filter admits it.
func (s *TelemetryStream) Send(ev runtime.TelemetryEvent) {
	env := envelopeFor(ev)
	blob, err := json.Marshal(env)
	if err != nil {
		s.log.Error("failed to encode telemetry", logger.Err(err))
		return
	}
	kind := kindCategory(env.Code)

	s.mu.Lock()
	for sub := range s.subs {
		sub.offer(kind, blob)
	}
	s.mu.Unlock()
}

// SubscriberCount returns the number of attached subscribers.
func (s *TelemetryStream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Attach adopts a WebSocket connection as a subscriber: it receives the
// composition snapshot, then telemetry as it happens. kinds narrows what
// it sees; empty means everything. The subscriber may retarget its filter
// later by sending {"kinds": [...]} over the socket.
func (s *TelemetryStream) Attach(conn *websocket.Conn, kinds []string) {
	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, streamQueueDepth),
		done:  make(chan struct{}),
		kinds: kindSet(kinds),
	}

	if s.snapshot != nil {
		if blob, err := json.Marshal(s.snapshot()); err == nil {
			sub.queue <- blob
		}
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(sub)
	go s.controlLoop(sub)
}

// RunHeartbeat sends each subscriber a periodic stats frame carrying the
// stream's health: subscriber count and that subscriber's own dropped
// total. Doubles as the liveness signal for quiet compositions.
func (s *TelemetryStream) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			count := len(s.subs)
			for sub := range s.subs {
				env := &telemetryEnvelope{
					ID:        uuid.NewString(),
					Code:      uint32(protocol.TelemetryStats),
					Kind:      "stats",
					Timestamp: time.Now().UnixMilli(),
					Stats: &streamStats{
						Subscribers:   count,
						DroppedFrames: sub.dropped.Load(),
					},
				}
				if blob, err := json.Marshal(env); err == nil {
					// Stats bypass the kind filter; every subscriber gets
					// its own health.
					sub.offer("", blob)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *TelemetryStream) detach(sub *subscriber) {
	s.mu.Lock()
	_, present := s.subs[sub]
	delete(s.subs, sub)
	s.mu.Unlock()
	if present {
		close(sub.done)
		sub.conn.Close()
	}
}

// writeLoop drains the subscriber's queue onto the wire.
func (s *TelemetryStream) writeLoop(sub *subscriber) {
	defer s.detach(sub)
	for {
		select {
		case <-sub.done:
			return
		case blob := <-sub.queue:
			sub.conn.SetWriteDeadline(time.Now().Add(streamSendTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, blob); err != nil {
				return
			}
		}
	}
}

// controlLoop reads subscriber commands: currently just filter updates of
// the form {"kinds": ["events", "ports"]}. A read error means the peer is
// gone.
func (s *TelemetryStream) controlLoop(sub *subscriber) {
	defer s.detach(sub)
	sub.conn.SetReadLimit(streamControlLimit)
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd struct {
			Kinds []string `json:"kinds"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Warn("ignoring malformed subscriber command", logger.Err(err))
			continue
		}
		sub.setKinds(cmd.Kinds)
	}
}

// offer enqueues a frame, counting it as dropped when the subscriber's
// queue is full. A frame whose kind the filter rejects is discarded
// without being counted.
func (sub *subscriber) offer(kind string, blob []byte) {
	if kind != "" && !sub.wants(kind) {
		return
	}
	select {
	case sub.queue <- blob:
	default:
		sub.dropped.Add(1)
	}
}

func (sub *subscriber) wants(kind string) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.kinds == nil || sub.kinds[kind]
}

func (sub *subscriber) setKinds(kinds []string) {
	set := kindSet(kinds)
	sub.mu.Lock()
	sub.kinds = set
	sub.mu.Unlock()
}

func kindSet(kinds []string) map[string]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		if k == "all" {
			return nil
		}
		set[k] = true
	}
	return set
}

// kindCategory buckets telemetry codes into the filterable kinds.
func kindCategory(code uint32) string {
	switch protocol.TelemetryCode(code) {
	case protocol.TelemetryInputPortsUpdated,
		protocol.TelemetryOutputPortsUpdated,
		protocol.TelemetryPublishedOutputPortsUpdated:
		return kindPorts
	case protocol.TelemetryError, protocol.TelemetryStopRequested:
		return kindErrors
	default:
		return kindEvents
	}
}
