// Package bus implements the Bus Supervisor: one goroutine per session
// draining its pipeline's asynchronous event channel and routing
// STATE_CHANGE/EOS/ERROR/WARNING notifications into the Recording Controller
// and the Session Registry.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/camerarecorder/streamrecorder/internal/common"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/recording"
	"github.com/camerarecorder/streamrecorder/internal/registry"
)

var _ common.Stoppable = (*Supervisor)(nil)

// finalizeTimeout bounds how long a FAILED-finalization triggered by a bus
// event may take before it is abandoned; finalization on the error path must
// never block event routing for other sessions indefinitely.
const finalizeTimeout = 5 * time.Second

// Supervisor owns one event-routing goroutine per supervised session. It
// holds no direct reference to a *registry.Session: each event re-resolves
// the session through the registry, a non-owning handle that fails cleanly
// once the session has been removed.
type Supervisor struct {
	registry *registry.Registry
	recorder *recording.Controller
	logger   *logging.Logger

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Supervisor wired to the given registry and recording
// controller.
func New(reg *registry.Registry, rec *recording.Controller, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		registry: reg,
		recorder: rec,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Supervise starts routing events for the given session. Safe to call once
// per session, right after the session is registered and its pipeline has
// started connecting.
func (s *Supervisor) Supervise(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if _, exists := s.cancels[sessionID]; exists {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancels[sessionID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, sessionID)
}

// Unsupervise stops routing events for a session, e.g. once its pipeline has
// fully disconnected and it is about to be removed from the registry.
func (s *Supervisor) Unsupervise(sessionID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[sessionID]
	delete(s.cancels, sessionID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown stops every session's event-routing goroutine and waits for them
// to drain.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Stop implements common.Stoppable: it runs Shutdown but gives up and
// reports ctx's error if every routing goroutine hasn't drained in time,
// rather than blocking engine shutdown indefinitely on a stuck session.
func (s *Supervisor) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run(ctx context.Context, sessionID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, sessionID)
		s.mu.Unlock()
	}()

	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return
	}
	events := sess.Pipeline.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if s.route(sessionID, ev) {
				return
			}
		}
	}
}

// route applies one pipeline event to the session's recording and
// registration state. It returns true once the session is gone (a fatal
// main-pipeline failure) and the caller's routing goroutine must stop. EOS
// on a recording branch is not routed here at all: it is observed directly
// by the recording branch's own read loop via the branch channel's closure,
// which is the Go-native equivalent of a single-producer single-consumer
// EOS notification.
func (s *Supervisor) route(sessionID string, ev pipeline.Event) bool {
	switch ev.Kind {
	case pipeline.EventStateChange:
		if ev.State == pipeline.Failed {
			s.teardownFailedSession(sessionID, "pipeline transitioned to FAILED")
			return true
		}

	case pipeline.EventError:
		sess, ok := s.registry.Get(sessionID)
		if !ok {
			return true
		}
		if ev.BranchID != "" {
			s.logger.WithFields(logging.Fields{
				"session_id": sessionID,
				"branch_id":  ev.BranchID,
			}).WithError(ev.Err).Warn("recording branch reported an isolated error, detaching it")
			sess.Pipeline.CloseBranch(ev.BranchID)
			s.failActiveRecording(sessionID, "recording branch failed")
			return false
		}

		s.logger.WithField("session_id", sessionID).WithError(ev.Err).
			Error("main pipeline reported a fatal error, tearing down session")
		s.teardownFailedSession(sessionID, "main pipeline failed")
		return true

	case pipeline.EventEOS:
		s.logger.WithField("session_id", sessionID).Debug("pipeline reported end of stream")

	case pipeline.EventWarning:
		s.logger.WithField("session_id", sessionID).WithError(ev.Err).Warn("pipeline warning")
	}
	return false
}

func (s *Supervisor) failActiveRecording(sessionID, reason string) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return
	}
	if _, active := sess.ActiveRecording(); !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	s.logger.WithField("session_id", sessionID).Warn(reason + ", finalizing active recording as FAILED")
	s.recorder.FailActive(ctx, sess)
}

// teardownFailedSession fails any in-progress recording, disconnects the
// pipeline, and removes the session from the registry so a fatally failed
// session never lingers forever holding a routing goroutine open.
func (s *Supervisor) teardownFailedSession(sessionID, reason string) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return
	}
	s.failActiveRecording(sessionID, reason)
	_ = sess.Pipeline.Disconnect()
	s.registry.Remove(sessionID)
}
