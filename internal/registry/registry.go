// Package registry implements the Session Registry: a process-wide,
// concurrently readable map from session identifier to session handle, with
// per-key serialized mutation.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerarecorder/streamrecorder/internal/apierror"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
)

// Session is the registry's handle: a session identifier bound to its
// Media Pipeline plus the bookkeeping the Recording Controller and Bus
// Supervisor hang off it.
type Session struct {
	ID        string
	Protocol  pipeline.Protocol
	Source    string // source locator, e.g. the RTSP URL
	Pipeline  *pipeline.Pipeline
	CreatedAt time.Time

	mu              sync.Mutex
	activeRecording string // recording id, empty if none
}

// ActiveRecording returns the id of the currently active recording, if any.
func (s *Session) ActiveRecording() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRecording, s.activeRecording != ""
}

// SetActiveRecording records (or clears, with "") the session's current
// recording. Callers are expected to hold the session's command mailbox
// (KeyLock) while calling this, so two concurrent commands for the same
// session can never race on this field.
func (s *Session) SetActiveRecording(recordingID string) {
	s.mu.Lock()
	s.activeRecording = recordingID
	s.mu.Unlock()
}

// ConstructPipeline builds the Media Pipeline for a given protocol and
// source locator. Kept as a variable so tests can substitute a fake
// pipeline without a real network dependency.
type ConstructPipeline func(sessionID string, protocol pipeline.Protocol, source string) (*pipeline.Pipeline, error)

// Registry is the Session Registry.
type Registry struct {
	construct ConstructPipeline
	logger    *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	keyLocks map[string]*sync.Mutex
}

// New builds a Registry that uses construct to build each session's Media
// Pipeline.
func New(construct ConstructPipeline, logger *logging.Logger) *Registry {
	return &Registry{
		construct: construct,
		logger:    logger,
		sessions:  make(map[string]*Session),
		keyLocks:  make(map[string]*sync.Mutex),
	}
}

// Create allocates a session identifier, constructs its Media Pipeline,
// and inserts it into the registry. Construction failure surfaces as
// PIPELINE_CONSTRUCT.
func (r *Registry) Create(protocol pipeline.Protocol, source string) (*Session, error) {
	id := uuid.NewString()

	p, err := r.construct(id, protocol, source)
	if err != nil {
		return nil, apierror.New(apierror.PipelineConstruct, fmt.Sprintf("failed to construct pipeline: %v", err)).WithOp("registry.create")
	}

	sess := &Session{ID: id, Protocol: protocol, Source: source, Pipeline: p, CreatedAt: time.Now()}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.logger.WithFields(logging.Fields{"session_id": id, "protocol": string(protocol)}).Info("session created")
	return sess, nil
}

// Get returns the session for id, or false if unknown. The returned handle
// is a live shared reference, not a snapshot.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a point-in-time snapshot of every session, safe to
// serialize without further synchronization.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Remove atomically takes a session out of the registry and returns its
// handle, so the caller can drive teardown off-registry.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		delete(r.keyLocks, id)
	}
	return s, ok
}

// KeyLock returns the per-session mutex backing that session's command
// mailbox: commands to the same session are applied one at a time, in the
// order they acquire the lock.
func (r *Registry) KeyLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[id] = l
	}
	return l
}

// Len reports the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
