// Package recording implements the Recording Controller: the start/stop
// protocol that attaches and detaches a recording branch at a pipeline's
// branching point and keeps the metadata store in lockstep with the
// branch's lifecycle.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerarecorder/streamrecorder/internal/apierror"
	"github.com/camerarecorder/streamrecorder/internal/ffmpeg"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/pipeline"
	"github.com/camerarecorder/streamrecorder/internal/registry"
	"github.com/camerarecorder/streamrecorder/internal/store"
)

// Config carries the protocol's tunables: keyframe wait, EOS wait,
// start/stop deadlines, and branch buffering.
type Config struct {
	RecordingDir        string
	KeyframeWait        time.Duration
	StopEOSWait         time.Duration
	StartDeadline       time.Duration
	StopDeadline        time.Duration
	BranchQueueCapacity int
}

// muxer is the narrow surface the Recording Controller needs from an MP4
// muxer/file-sink; *ffmpeg.Muxer satisfies it. Keeping it as an interface
// (the same shape as the teacher's FFmpegManager interface) lets tests
// substitute a fake sink instead of depending on a real ffmpeg binary.
type muxer interface {
	Start(ctx context.Context) error
	Write(p []byte) (int, error)
	Stop(ctx context.Context, gracePeriod time.Duration) error
}

// Controller owns the in-memory recording table and drives the start/stop
// protocol against the Metadata Store Adapter and a session's pipeline.
type Controller struct {
	cfg      Config
	store    *store.Store
	registry *registry.Registry
	logger   *logging.Logger
	newMuxer func(filePath string) muxer

	mu       sync.Mutex
	branches map[string]*activeBranch // keyed by session id
}

// New builds a Controller backed by real ffmpeg subprocess muxers. reg
// supplies the per-session command mailbox (registry.KeyLock) that
// serializes Start/Stop/FailActive against each other for a given session.
func New(cfg Config, st *store.Store, reg *registry.Registry, logger *logging.Logger) *Controller {
	return newController(cfg, st, reg, logger, func(filePath string) muxer {
		return ffmpeg.NewMuxer(filePath, logger)
	})
}

func newController(cfg Config, st *store.Store, reg *registry.Registry, logger *logging.Logger, newMuxer func(string) muxer) *Controller {
	return &Controller{
		cfg:      cfg,
		store:    st,
		registry: reg,
		logger:   logger,
		newMuxer: newMuxer,
		branches: make(map[string]*activeBranch),
	}
}

// Start runs the recording start protocol for sess, serialized against any
// other Start/Stop for the same session by the session's command mailbox so
// that two concurrent starts can never both observe no active recording:
// exactly one succeeds, the other sees ALREADY_RECORDING. The whole protocol
// is bounded by StartDeadline; on deadline it aborts and cleans up exactly
// like a failed start.
func (c *Controller) Start(ctx context.Context, sess *registry.Session) (string, error) {
	lock := c.registry.KeyLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartDeadline)
	defer cancel()

	return c.start(ctx, sess)
}

func (c *Controller) start(ctx context.Context, sess *registry.Session) (string, error) {
	if sess.Pipeline.State() != pipeline.Ready {
		return "", apierror.New(apierror.NotConnected, "session pipeline is not READY").WithOp("recording.start")
	}
	if _, active := sess.ActiveRecording(); active {
		return "", apierror.New(apierror.AlreadyRecording, "session already has an active recording").WithOp("recording.start")
	}

	recordingID := uuid.NewString()
	fileName := recordingID + ".mp4"
	filePath := filepath.Join(c.cfg.RecordingDir, fileName)
	startTime := time.Now()

	if err := c.store.Create(ctx, recordingID, fileName, filePath, startTime); err != nil {
		return "", apierror.New(apierror.DBError, fmt.Sprintf("failed to create catalog row: %v", err)).WithOp("recording.start")
	}

	// Cleanup must still run once ctx's start deadline has expired.
	cleanupCtx := context.WithoutCancel(ctx)

	out, err := sess.Pipeline.NewBranch(recordingID, c.cfg.BranchQueueCapacity)
	if err != nil {
		_ = c.store.MarkFailed(cleanupCtx, recordingID)
		return "", apierror.New(apierror.PipelineError, fmt.Sprintf("failed to attach branch: %v", err)).WithOp("recording.start")
	}

	mx := c.newMuxer(filePath)
	if err := mx.Start(ctx); err != nil {
		sess.Pipeline.CloseBranch(recordingID)
		_ = c.store.MarkFailed(cleanupCtx, recordingID)
		return "", apierror.New(apierror.PipelineError, fmt.Sprintf("failed to start muxer: %v", err)).WithOp("recording.start")
	}

	first, ok := waitForKeyframe(ctx, out, c.cfg.KeyframeWait)
	if !ok {
		sess.Pipeline.CloseBranch(recordingID)
		_ = mx.Stop(cleanupCtx, time.Second)
		_ = c.store.MarkFailed(cleanupCtx, recordingID)
		return "", apierror.New(apierror.PipelineError, "timed out waiting for a keyframe to link the recording branch").WithOp("recording.start")
	}

	ab := &activeBranch{
		recordingID: recordingID,
		sessionID:   sess.ID,
		filePath:    filePath,
		startTime:   startTime,
		out:         out,
		muxer:       mx,
		eosCh:       make(chan struct{}),
		onError:     func(err error) { sess.Pipeline.EmitBranchError(recordingID, err) },
	}

	if _, err := mx.Write(pipeline.AnnexB(first)); err != nil {
		c.logger.WithError(err).Warn("failed writing first keyframe access unit to muxer")
	}
	go ab.readLoop(c.logger)

	c.mu.Lock()
	c.branches[sess.ID] = ab
	c.mu.Unlock()
	sess.SetActiveRecording(recordingID)

	c.logger.WithFields(logging.Fields{
		"session_id":   sess.ID,
		"recording_id": recordingID,
		"file_path":    filePath,
	}).Info("recording started")

	return recordingID, nil
}

// waitForKeyframe drains access units off out until one contains a
// keyframe, the wait timeout elapses, or ctx (the overall start deadline)
// expires first.
func waitForKeyframe(ctx context.Context, out *pipeline.BranchOutput, timeout time.Duration) (pipeline.AccessUnit, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case au, ok := <-out.C():
			if !ok {
				return pipeline.AccessUnit{}, false
			}
			if au.IsKeyframe() {
				return au, true
			}
		case <-deadline:
			return pipeline.AccessUnit{}, false
		case <-ctx.Done():
			return pipeline.AccessUnit{}, false
		}
	}
}

// Stop runs the recording stop protocol for sess, the critical path that
// must produce a playable file, serialized against any other Start/Stop for
// the same session by the session's command mailbox.
func (c *Controller) Stop(ctx context.Context, sess *registry.Session) (string, error) {
	lock := c.registry.KeyLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	return c.stop(ctx, sess)
}

func (c *Controller) stop(ctx context.Context, sess *registry.Session) (string, error) {
	recordingID, active := sess.ActiveRecording()
	if !active {
		return "", apierror.New(apierror.NotRecording, "session has no active recording").WithOp("recording.stop")
	}

	c.mu.Lock()
	ab := c.branches[sess.ID]
	c.mu.Unlock()
	if ab == nil {
		return "", apierror.New(apierror.NotRecording, "session has no active recording").WithOp("recording.stop")
	}

	sess.Pipeline.CloseBranch(recordingID)

	select {
	case <-ab.eosCh:
	case <-time.After(c.cfg.StopEOSWait):
		c.logger.WithField("recording_id", recordingID).Warn("timed out waiting for branch EOS, forcing finalize")
	}

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopDeadline)
	defer cancel()
	muxerErr := ab.muxer.Stop(stopCtx, time.Second)

	c.finishActive(sess)

	if muxerErr != nil {
		c.logger.WithError(muxerErr).WithField("recording_id", recordingID).Warn("muxer reported an error on stop")
	}

	info, statErr := os.Stat(ab.filePath)
	if statErr != nil || info.Size() == 0 {
		_ = c.store.MarkFailed(ctx, recordingID)
		c.logger.WithField("recording_id", recordingID).Warn("recording produced an empty or unreadable file, marked FAILED")
		return recordingID, nil
	}

	end := time.Now()
	duration := int64(end.Sub(ab.startTime).Seconds())
	if err := c.store.MarkCompleted(ctx, recordingID, end, duration, info.Size()); err != nil {
		return "", apierror.New(apierror.DBError, fmt.Sprintf("failed to mark recording completed: %v", err)).WithOp("recording.stop")
	}

	c.logger.WithFields(logging.Fields{
		"recording_id": recordingID,
		"duration_s":   duration,
		"size_bytes":   info.Size(),
	}).Info("recording completed")

	return recordingID, nil
}

// FailActive hard-fails the session's active recording without attempting
// to finalize the muxer (the trailer would be invalid), used when the main
// pipeline suffers a fatal error while a recording is in progress. Goes
// through the same per-session command mailbox as Start/Stop.
func (c *Controller) FailActive(ctx context.Context, sess *registry.Session) {
	lock := c.registry.KeyLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	recordingID, active := sess.ActiveRecording()
	if !active {
		return
	}

	c.mu.Lock()
	ab := c.branches[sess.ID]
	c.mu.Unlock()
	if ab != nil {
		_ = ab.muxer.Stop(ctx, 0)
	}

	c.finishActive(sess)
	_ = c.store.MarkFailed(ctx, recordingID)
	c.logger.WithField("recording_id", recordingID).Warn("recording force-failed due to pipeline error")
}

func (c *Controller) finishActive(sess *registry.Session) {
	c.mu.Lock()
	delete(c.branches, sess.ID)
	c.mu.Unlock()
	sess.SetActiveRecording("")
}

// activeBranch is the in-memory bookkeeping for one session's in-progress
// recording: the branch output it reads from and the muxer it writes into.
type activeBranch struct {
	recordingID string
	sessionID   string
	filePath    string
	startTime   time.Time
	out         *pipeline.BranchOutput
	muxer       muxer
	eosCh       chan struct{}
	onError     func(error)
}

// readLoop feeds every subsequent access unit to the muxer until the
// branch's channel is closed, at which point it signals EOS. A write failure
// is reported once as a branch-isolated error (the muxer process is assumed
// dead past that point) but the loop keeps draining so the branch channel
// never blocks the branching point.
func (ab *activeBranch) readLoop(logger *logging.Logger) {
	reported := false
	for au := range ab.out.C() {
		if _, err := ab.muxer.Write(pipeline.AnnexB(au)); err != nil {
			logger.WithError(err).WithField("recording_id", ab.recordingID).Warn("muxer write failed")
			if !reported {
				reported = true
				if ab.onError != nil {
					ab.onError(err)
				}
			}
		}
	}
	close(ab.eosCh)
}
