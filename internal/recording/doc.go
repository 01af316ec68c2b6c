// Package recording implements the Recording Controller: the start/stop
// protocol that attaches a recording branch at a pipeline's branching
// point, drives it through an ffmpeg-backed MP4 muxer, and keeps the
// metadata store in lockstep with that branch's lifecycle.
package recording
