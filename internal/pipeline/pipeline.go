package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/camerarecorder/streamrecorder/internal/logging"
)

// Pipeline owns one session's media graph: a Source feeding a branchPoint,
// with a state machine tracking the connection lifecycle.
type Pipeline struct {
	sessionID string
	source    Source
	logger    *logging.Logger

	mu    sync.RWMutex
	state State

	branch *branchPoint
	events chan Event

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a pipeline in the Constructed state. It does not connect.
func New(sessionID string, source Source, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		sessionID: sessionID,
		source:    source,
		logger:    logger,
		state:     Constructed,
		branch:    newBranchPoint(),
		events:    make(chan Event, 32),
		stopped:   make(chan struct{}),
	}
}

// Events returns the channel the Bus Supervisor reads STATE_CHANGE/EOS/
// ERROR/WARNING notifications from.
func (p *Pipeline) Events() <-chan Event { return p.events }

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.emit(Event{Kind: EventStateChange, State: s})
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("pipeline event channel full, dropping event")
	}
}

// Connect starts the source and transitions Constructed -> Connecting ->
// Ready, or -> Failed on error. It blocks until the first access unit (or a
// connection failure) is observed.
func (p *Pipeline) Connect(ctx context.Context) error {
	if p.State() != Constructed {
		return fmt.Errorf("pipeline %s: connect called outside CONSTRUCTED state", p.sessionID)
	}
	p.setState(Connecting)

	ready := make(chan struct{})
	var readyOnce sync.Once

	onAccessUnit := func(au AccessUnit) {
		readyOnce.Do(func() { close(ready) })
		p.branch.Write(au)
	}
	onError := func(err error) {
		p.logger.WithError(err).Error("pipeline source error")
		p.setState(Failed)
		p.emit(Event{Kind: EventError, Err: err})
	}

	if err := p.source.Connect(onAccessUnit, onError); err != nil {
		p.setState(Failed)
		return fmt.Errorf("pipeline %s: connect: %w", p.sessionID, err)
	}

	select {
	case <-ready:
		p.setState(Ready)
		return nil
	case <-ctx.Done():
		_ = p.source.Close()
		p.setState(Failed)
		return fmt.Errorf("pipeline %s: timed out waiting for first access unit: %w", p.sessionID, ctx.Err())
	}
}

// EmitBranchError reports an error isolated to one recording branch (e.g. its
// muxer died) without touching the main pipeline's state, so the Bus
// Supervisor can fail just that recording and leave the live feed rolling.
func (p *Pipeline) EmitBranchError(branchID string, err error) {
	p.emit(Event{Kind: EventError, BranchID: branchID, Err: err})
}

// WaitReady blocks until the pipeline reaches Ready, Failed, or the context
// is cancelled, returning the terminal state reached.
func (p *Pipeline) WaitReady(ctx context.Context, poll time.Duration) (State, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		switch s := p.State(); s {
		case Ready, Failed:
			return s, nil
		}
		select {
		case <-ctx.Done():
			return p.State(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// NewBranch attaches a new recording branch to the live feed and returns
// its output. bufferSize bounds how far a slow branch can lag before its
// access units start being dropped for it specifically.
func (p *Pipeline) NewBranch(branchID string, bufferSize int) (*BranchOutput, error) {
	if p.State() != Ready {
		return nil, fmt.Errorf("pipeline %s: cannot attach branch outside READY state", p.sessionID)
	}
	return p.branch.NewOutput(branchID, bufferSize), nil
}

// CloseBranch detaches a recording branch. Safe to call even if the branch
// was never created.
func (p *Pipeline) CloseBranch(branchID string) {
	p.branch.CloseOutput(branchID)
}

// Disconnect tears the pipeline down: Ready/Connecting -> Disconnecting ->
// (closed). All branches observe channel closure.
func (p *Pipeline) Disconnect() error {
	var err error
	p.stopOnce.Do(func() {
		p.setState(Disconnecting)
		err = p.source.Close()
		p.branch.CloseAll()
		close(p.stopped)
	})
	return err
}

// Done returns a channel closed once Disconnect has completed.
func (p *Pipeline) Done() <-chan struct{} { return p.stopped }

// SessionID returns the session this pipeline belongs to.
func (p *Pipeline) SessionID() string { return p.sessionID }
