package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/protocol"
	"github.com/patchwork-dev/patchwork/runtime"
)

// telemetryEnvelope is the JSON rendering of one telemetry event, shared
// by the WebSocket stream and the Redis publisher.
type telemetryEnvelope struct {
	ID        string `json:"id"`
	Code      uint32 `json:"code"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`

	CompositionID string               `json:"compositionId,omitempty"`
	NodeID        string               `json:"nodeId,omitempty"`
	PortID        string               `json:"portId,omitempty"`
	EventID       uint64               `json:"eventId,omitempty"`
	Message       string               `json:"message,omitempty"`
	Ports         []runtime.PortUpdate `json:"ports,omitempty"`

	Stats    *streamStats         `json:"stats,omitempty"`
	Snapshot *compositionSnapshot `json:"snapshot,omitempty"`
}

// streamStats is the per-subscriber health record in heartbeat frames.
type streamStats struct {
	Subscribers   int    `json:"subscribers"`
	DroppedFrames uint64 `json:"droppedFrames"`
}

// compositionSnapshot is what a subscriber receives on attach: the hosted
// composition's roster and current port values.
type compositionSnapshot struct {
	Composition string         `json:"composition"`
	ModuleKey   string         `json:"moduleKey"`
	Stateful    bool           `json:"stateful"`
	Nodes       []snapshotNode `json:"nodes"`
}

type snapshotNode struct {
	ID    string         `json:"id"`
	Ports []snapshotPort `json:"ports,omitempty"`
}

type snapshotPort struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

func envelopeFor(ev runtime.TelemetryEvent) *telemetryEnvelope {
	env := &telemetryEnvelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}
	switch e := ev.(type) {
	case runtime.NodeExecutionStarted:
		env.Code, env.Kind = uint32(protocol.TelemetryNodeExecutionStarted), "nodeExecutionStarted"
		env.CompositionID, env.NodeID, env.EventID = e.CompositionID, e.NodeIdentifier, e.EventID
	case runtime.NodeExecutionFinished:
		env.Code, env.Kind = uint32(protocol.TelemetryNodeExecutionFinished), "nodeExecutionFinished"
		env.CompositionID, env.NodeID, env.EventID = e.CompositionID, e.NodeIdentifier, e.EventID
	case runtime.InputPortsUpdated:
		env.Code, env.Kind = uint32(protocol.TelemetryInputPortsUpdated), "inputPortsUpdated"
		env.CompositionID, env.Ports = e.CompositionID, e.Ports
	case runtime.OutputPortsUpdated:
		env.Code, env.Kind = uint32(protocol.TelemetryOutputPortsUpdated), "outputPortsUpdated"
		env.CompositionID, env.Ports = e.CompositionID, e.Ports
	case runtime.PublishedOutputPortsUpdated:
		env.Code, env.Kind = uint32(protocol.TelemetryPublishedOutputPortsUpdated), "publishedOutputPortsUpdated"
		env.CompositionID, env.Ports = e.CompositionID, e.Ports
	case runtime.EventFinished:
		env.Code, env.Kind = uint32(protocol.TelemetryEventFinished), "eventFinished"
		env.EventID = e.EventID
	case runtime.EventDropped:
		env.Code, env.Kind = uint32(protocol.TelemetryEventDropped), "eventDropped"
		env.CompositionID, env.PortID = e.CompositionID, e.PortIdentifier
	case runtime.UncaughtError:
		env.Code, env.Kind = uint32(protocol.TelemetryError), "error"
		env.Message = e.Message
	case runtime.StopRequested:
		env.Code, env.Kind = uint32(protocol.TelemetryStopRequested), "stopRequested"
	default:
		env.Code, env.Kind = uint32(protocol.TelemetryStats), "stats"
	}
	return env
}

// TelemetryPublisher republishes telemetry to a Redis pub/sub channel so
// observers in other processes can subscribe without reaching the runner.
type TelemetryPublisher struct {
	redis   *redis.Client
	channel string
	log     *logger.Logger
	queue   chan []byte
	done    chan struct{}
}

// NewTelemetryPublisher creates a publisher. The channel carries the
// composition name so one Redis can serve many runners.
func NewTelemetryPublisher(client *redis.Client, channelPrefix, compositionName string, log *logger.Logger) *TelemetryPublisher {
	p := &TelemetryPublisher{
		redis:   client,
		channel: channelPrefix + ":" + compositionName,
		log:     log,
		queue:   make(chan []byte, 1024),
		done:    make(chan struct{}),
	}
	go p.drain()
	return p
}

// Send implements runtime.TelemetrySink. Publishing is asynchronous;
// telemetry must never block an event's critical path.
func (p *TelemetryPublisher) Send(ev runtime.TelemetryEvent) {
	blob, err := json.Marshal(envelopeFor(ev))
	if err != nil {
		p.log.Error("failed to encode telemetry", logger.Err(err))
		return
	}
	select {
	case p.queue <- blob:
	default:
		p.log.Warn("telemetry publish queue full, dropping", "channel", p.channel)
	}
}

func (p *TelemetryPublisher) drain() {
	ctx := context.Background()
	for {
		select {
		case <-p.done:
			return
		case blob := <-p.queue:
			if err := p.redis.Publish(ctx, p.channel, blob).Err(); err != nil {
				p.log.Error("failed to publish telemetry", "channel", p.channel, logger.Err(err))
			}
		}
	}
}

// Close stops the publisher.
func (p *TelemetryPublisher) Close() {
	close(p.done)
}
