// Package pipeline owns the per-session media graph: source ingestion,
// H.264 access-unit assembly, and the branching point that recording
// branches attach to and detach from while the live feed keeps running.
package pipeline
