package main

import (
	"testing"

	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/protocol"
	"github.com/patchwork-dev/patchwork/runtime"
)

func TestKindCategory(t *testing.T) {
	tests := []struct {
		code protocol.TelemetryCode
		want string
	}{
		{protocol.TelemetryNodeExecutionStarted, kindEvents},
		{protocol.TelemetryEventFinished, kindEvents},
		{protocol.TelemetryEventDropped, kindEvents},
		{protocol.TelemetryInputPortsUpdated, kindPorts},
		{protocol.TelemetryOutputPortsUpdated, kindPorts},
		{protocol.TelemetryPublishedOutputPortsUpdated, kindPorts},
		{protocol.TelemetryError, kindErrors},
		{protocol.TelemetryStopRequested, kindErrors},
	}
	for _, tt := range tests {
		if got := kindCategory(uint32(tt.code)); got != tt.want {
			t.Errorf("kindCategory(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestKindSet(t *testing.T) {
	if kindSet(nil) != nil {
		t.Errorf("no filter means everything")
	}
	if kindSet([]string{"all"}) != nil {
		t.Errorf("'all' disables the filter")
	}
	set := kindSet([]string{kindEvents, kindErrors})
	if !set[kindEvents] || !set[kindErrors] || set[kindPorts] {
		t.Errorf("filter set wrong: %v", set)
	}
}

func TestSubscriberFilterAndDropAccounting(t *testing.T) {
	sub := &subscriber{
		queue: make(chan []byte, 1),
		done:  make(chan struct{}),
		kinds: kindSet([]string{kindEvents}),
	}

	// A filtered-out kind is discarded without counting as a drop.
	sub.offer(kindPorts, []byte("ports"))
	if len(sub.queue) != 0 || sub.dropped.Load() != 0 {
		t.Fatalf("filtered frame should be discarded silently")
	}

	// An admitted kind is queued.
	sub.offer(kindEvents, []byte("one"))
	if len(sub.queue) != 1 {
		t.Fatalf("admitted frame should be queued")
	}

	// A saturated queue drops the frame and counts it.
	sub.offer(kindEvents, []byte("two"))
	if sub.dropped.Load() != 1 {
		t.Errorf("saturation should count a dropped frame, got %d", sub.dropped.Load())
	}

	// Stats frames bypass the filter.
	<-sub.queue
	sub.offer("", []byte("stats"))
	if len(sub.queue) != 1 {
		t.Errorf("kind-less frames should bypass the filter")
	}

	// Retargeting the filter takes effect immediately.
	sub.setKinds([]string{kindPorts})
	if sub.wants(kindEvents) || !sub.wants(kindPorts) {
		t.Errorf("filter retarget did not apply")
	}
}

func TestStreamSendHonorsFilters(t *testing.T) {
	stream := NewTelemetryStream(logger.Discard())

	sub := &subscriber{
		queue: make(chan []byte, 8),
		done:  make(chan struct{}),
		kinds: kindSet([]string{kindErrors}),
	}
	stream.mu.Lock()
	stream.subs[sub] = struct{}{}
	stream.mu.Unlock()

	stream.Send(runtime.NodeExecutionStarted{CompositionID: "Top", NodeIdentifier: "A"})
	if len(sub.queue) != 0 {
		t.Fatalf("events should be filtered out for an errors-only subscriber")
	}

	stream.Send(runtime.UncaughtError{Message: "boom"})
	if len(sub.queue) != 1 {
		t.Fatalf("errors should reach an errors-only subscriber")
	}

	if stream.SubscriberCount() != 1 {
		t.Errorf("subscriber count = %d", stream.SubscriberCount())
	}
}
