// Command patchwork-runner hosts one compiled composition: it compiles a
// composition descriptor, runs it, exposes the control surface over HTTP,
// streams telemetry to WebSocket subscribers, and optionally republishes
// telemetry to Redis for external fanout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/patchwork-dev/patchwork/common/config"
	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/compiler"
	"github.com/patchwork-dev/patchwork/protocol"
	"github.com/patchwork-dev/patchwork/runtime"
)

func main() {
	var compositionPath string
	flag.StringVar(&compositionPath, "composition", "", "path to a composition descriptor (JSON)")
	flag.Parse()

	cfg, err := config.Load("patchwork-runner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		Level:  cfg.Service.LogLevel,
		Format: cfg.Service.LogFormat,
	})

	if compositionPath == "" {
		log.Error("no composition given; pass -composition")
		os.Exit(1)
	}

	comp, err := loadComposition(compositionPath)
	if err != nil {
		log.Error("failed to load composition", "path", compositionPath, "error", err)
		os.Exit(1)
	}

	gen, err := compiler.NewGenerator(comp, compiler.Options{TopLevel: true, Logger: log})
	if err != nil {
		log.Error("failed to analyze composition", "error", err)
		os.Exit(1)
	}
	module, err := gen.Generate()
	if err != nil {
		log.Error("failed to compile composition", "error", err)
		os.Exit(1)
	}
	log.Info("composition compiled",
		"name", module.Name,
		"module_key", module.Key,
		"stateful", module.Stateful)

	st := runtime.NewState(log)
	cs := runtime.NewCompositionState(st, module.TopLevelCompositionIdentifier)

	stream := NewTelemetryStream(log)
	stream.SetSnapshot(snapshotFunc(module, st, cs))
	st.Telemetry().AddSink(stream)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		publisher := NewTelemetryPublisher(redisClient, cfg.Redis.Channel, module.Name, log)
		st.Telemetry().AddSink(publisher)
		defer publisher.Close()
		log.Info("telemetry republishing enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	module.Setup(cs)
	module.InstanceInit(cs)
	module.InstanceTriggerStart(cs)
	log.Info("composition running", "composition", module.Name)

	server := NewServer(module, cs, stream, log)

	ctx, cancel := context.WithCancel(context.Background())
	go stream.RunHeartbeat(ctx, cfg.Telemetry.HeartbeatInterval)
	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		<-shutdown
		cancel()
	}()

	if err := server.Start(ctx, cfg.Service.Port); err != nil {
		log.Error("server stopped", "error", err)
	}

	log.Info("stopping composition")
	module.InstanceTriggerStop(cs)
	module.InstanceFini(cs)
	module.Cleanup(cs)
}

// snapshotFunc renders the hosted composition's roster and current port
// values for subscribers that just attached.
func snapshotFunc(module *compiler.Module, st *runtime.State, cs *runtime.CompositionState) func() *telemetryEnvelope {
	return func() *telemetryEnvelope {
		snap := &compositionSnapshot{
			Composition: module.Name,
			ModuleKey:   module.Key,
			Stateful:    module.Stateful,
		}
		for _, md := range st.NodeMetadataList(cs) {
			node := snapshotNode{ID: md.NodeIdentifier}
			for _, pm := range md.Ports {
				node.Ports = append(node.Ports, snapshotPort{
					ID:      pm.PortIdentifier,
					Summary: module.CompositionGetPortValue(cs, pm.PortIdentifier, runtime.SerializeSummary, true),
				})
			}
			snap.Nodes = append(snap.Nodes, node)
		}
		return &telemetryEnvelope{
			ID:            uuid.NewString(),
			Code:          uint32(protocol.TelemetryStats),
			Kind:          "snapshot",
			Timestamp:     time.Now().UnixMilli(),
			CompositionID: cs.CompositionIdentifier,
			Snapshot:      snap,
		}
	}
}
