// Package main implements the stream recording engine's entry point.
//
// Architecture follows the layered approach:
//   - Foundation: configuration and logging
//   - Core services: metadata store, session registry, recording controller
//   - Orchestration: bus supervisor routing pipeline events into the above
//   - API: HTTP control plane
//
// The startup sequence:
//  1. Load and validate configuration
//  2. Initialize structured logging
//  3. Open the metadata store (runs crash-restart reconciliation)
//  4. Build the session registry (wired to construct real RTSP pipelines)
//  5. Build the recording controller and bus supervisor
//  6. Start the HTTP control plane
//
// Graceful shutdown reverses this order: the HTTP layer stops accepting new
// work first, then every live session is disconnected (finalizing any
// in-flight recording), then the store is closed last.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/camerarecorder/streamrecorder/internal/bus"
	"github.com/camerarecorder/streamrecorder/internal/common"
	"github.com/camerarecorder/streamrecorder/internal/config"
	"github.com/camerarecorder/streamrecorder/internal/httpapi"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/recording"
	"github.com/camerarecorder/streamrecorder/internal/registry"
	"github.com/camerarecorder/streamrecorder/internal/store"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Layer 1: Foundation - load and validate configuration.
	configManager := config.NewManager()
	if err := configManager.Load(*configPath); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := configManager.Config()

	if err := logging.ConfigureGlobalLogging(&logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FileEnabled:    cfg.Logging.FileEnabled,
		FilePath:       cfg.Logging.FilePath,
		MaxFileSize:    cfg.Logging.MaxFileSize,
		BackupCount:    cfg.Logging.BackupCount,
		ConsoleEnabled: cfg.Logging.ConsoleEnabled,
	}); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	logger := logging.GetLogger("engine")
	logger.Info("starting stream recording engine")

	// Layer 2: Core services - metadata store first, since session and
	// recording construction both depend on it being ready.
	st, err := store.Open(cfg.Database.URL, store.DefaultConfig(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open metadata store")
	}

	reg := registry.New(buildPipeline(logger), logger)

	rec := recording.New(recording.Config{
		RecordingDir:        cfg.Recording.Directory,
		KeyframeWait:        cfg.Pipeline.KeyframeWait(),
		StopEOSWait:         cfg.Pipeline.StopEOSWait(),
		StartDeadline:       cfg.Pipeline.StartDeadline(),
		StopDeadline:        cfg.Pipeline.StopDeadline(),
		BranchQueueCapacity: cfg.Pipeline.BranchQueueCapacity,
	}, st, reg, logging.GetLogger("recording"))

	supervisor := bus.New(reg, rec, logging.GetLogger("bus"))

	httpServer := httpapi.New(httpapi.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadyTimeout:     cfg.Pipeline.ReadyTimeout(),
		ReadHeaderSecs:   10,
		WriteTimeoutSecs: 30,
		IdleTimeoutSecs:  60,
	}, reg, rec, st, supervisor, logging.GetLogger("httpapi"))

	ctx, cancel := context.WithCancel(context.Background())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start(ctx)
	}()
	logger.WithField("address", cfg.Server.Host).Info("HTTP control plane started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received shutdown signal, stopping services...")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("HTTP control plane exited unexpectedly")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	drainSessions(shutdownCtx, reg, rec, supervisor, logger)

	// Every remaining long-lived service shuts down through the same
	// Stoppable contract, stopped in dependency order: the bus before the
	// store it finalizes recordings into.
	for _, svc := range []common.Stoppable{supervisor, st} {
		if err := common.StopWithTimeout(svc, 5*time.Second); err != nil {
			logger.WithError(err).Warn("service did not stop cleanly during shutdown")
		}
	}

	logger.Info("stream recording engine stopped")
}

// buildPipeline returns the registry.ConstructPipeline implementation that
// wires a real RTSP source into a new Media Pipeline. WebRTC ingestion is
// not yet implemented; sessions requesting it fail construction cleanly
// rather than silently falling back to RTSP.
func buildPipeline(logger *logging.Logger) registry.ConstructPipeline {
	return func(sessionID string, protocol pipeline.Protocol, source string) (*pipeline.Pipeline, error) {
		switch protocol {
		case pipeline.RTSP:
			src, err := pipeline.NewRTSPSource(source, logging.GetLogger("rtsp-source"))
			if err != nil {
				return nil, err
			}
			return pipeline.New(sessionID, src, logger), nil
		default:
			return nil, errUnsupportedProtocol(protocol)
		}
	}
}

type errUnsupportedProtocol pipeline.Protocol

func (e errUnsupportedProtocol) Error() string {
	return "unsupported stream protocol: " + string(e)
}

// drainSessions disconnects every live session, finalizing any in-flight
// recording as part of each session's own disconnect protocol, bounded by
// ctx. Each session's drain never
// returns an error worth aborting its siblings over, so every goroutine
// logs and swallows its own failure rather than cancelling the group.
func drainSessions(ctx context.Context, reg *registry.Registry, rec *recording.Controller, supervisor *bus.Supervisor, logger *logging.Logger) {
	sessions := reg.List()
	if len(sessions) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			if _, active := sess.ActiveRecording(); active {
				if _, err := rec.Stop(gctx, sess); err != nil {
					logger.WithError(err).WithField("session_id", sess.ID).Warn("failed to finalize recording during shutdown")
				}
			}
			_ = sess.Pipeline.Disconnect()
			supervisor.Unsupervise(sess.ID)
			reg.Remove(sess.ID)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all sessions drained cleanly")
	case <-ctx.Done():
		logger.Warn("shutdown timeout draining sessions, forcing exit")
	}
}
