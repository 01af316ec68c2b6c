// Package httpapi implements the HTTP control plane: connect and disconnect
// streams, start and stop recordings, and browse/download the recording
// catalog. Handlers delegate all business logic to the Session Registry,
// the Recording Controller and the Metadata Store Adapter -- no business
// logic lives here, mirroring the teacher's HTTPHealthServer "thin
// delegation" pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/camerarecorder/streamrecorder/internal/apierror"
	"github.com/camerarecorder/streamrecorder/internal/bus"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/recording"
	"github.com/camerarecorder/streamrecorder/internal/registry"
	"github.com/camerarecorder/streamrecorder/internal/store"
)

// Config carries the HTTP control plane's bind and timeout tunables.
type Config struct {
	Host             string
	Port             int
	ReadyTimeout     time.Duration
	ReadHeaderSecs   int
	WriteTimeoutSecs int
	IdleTimeoutSecs  int
}

// Server is the HTTP control plane.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	recorder   *recording.Controller
	store      *store.Store
	supervisor *bus.Supervisor
	logger     *logging.Logger
	httpServer *http.Server
}

// New builds a Server wired to the engine's core components and registers
// every control-plane route.
func New(cfg Config, reg *registry.Registry, rec *recording.Controller, st *store.Store, sup *bus.Supervisor, logger *logging.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   reg,
		recorder:   rec,
		store:      st,
		supervisor: sup,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/streams/connect", s.handleStreamsConnect)
	mux.HandleFunc("POST /api/v1/streams/{id}/disconnect", s.handleStreamsDisconnect)
	mux.HandleFunc("GET /api/v1/streams/status", s.handleStreamsStatusAll)
	mux.HandleFunc("GET /api/v1/streams/{id}/status", s.handleStreamStatus)
	mux.HandleFunc("GET /api/v1/streams/{id}/debug", s.handleStreamDebug)
	mux.HandleFunc("POST /api/v1/recordings/{id}/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/v1/recordings/{id}/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/v1/recordings", s.handleRecordingsList)
	mux.HandleFunc("GET /api/v1/recordings/{id}", s.handleRecordingGet)
	mux.HandleFunc("GET /api/v1/recordings/{id}/download", s.handleRecordingDownload)
	mux.HandleFunc("DELETE /api/v1/recordings/{id}", s.handleRecordingDelete)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.ReadHeaderSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSecs) * time.Second,
	}
	return s
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully, mirroring the teacher's HTTPHealthServer.Start lifecycle.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logging.Fields{"address": s.httpServer.Addr}).Info("starting HTTP control plane")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("HTTP control plane shutdown failed")
		return err
	}
	s.logger.Info("HTTP control plane stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeJSON mirrors the teacher's writeJSONResponse: set headers, then
// encode. An encode failure is ignored; it is not logged.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, logger *logging.Logger, err error) {
	apiErr := apierror.From(err)
	logger.WithError(apiErr).WithField("code", string(apiErr.ErrCode)).Warn("request failed")
	writeJSON(w, apiErr.HTTPStatus(), apiErr)
}
