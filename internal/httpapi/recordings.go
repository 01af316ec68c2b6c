package httpapi

import (
	"errors"
	"net/http"
	"os"

	"github.com/camerarecorder/streamrecorder/internal/apierror"
	"github.com/camerarecorder/streamrecorder/internal/logging"
	"github.com/camerarecorder/streamrecorder/internal/store"
)

// handleRecordingStart implements POST /api/v1/recordings/{id}/start, where
// {id} is a stream (session) id, not a recording id -- the route names the
// recording resource by the stream that produces it.
func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		writeAPIError(w, s.logger, apierror.New(apierror.ResourceNotFound, "unknown stream id"))
		return
	}

	recordingID, err := s.recorder.Start(r.Context(), sess)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	rec, err := s.store.Get(r.Context(), recordingID)
	location := recordingID + ".mp4"
	if err == nil {
		location = rec.FilePath
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"recording_id": recordingID,
		"stream_id":    sessionID,
		"location":     location,
		"status":       "RECORDING",
	})
}

// handleRecordingStop implements POST /api/v1/recordings/{id}/stop.
func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		writeAPIError(w, s.logger, apierror.New(apierror.ResourceNotFound, "unknown stream id"))
		return
	}

	recordingID, err := s.recorder.Stop(r.Context(), sess)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"recording_id": recordingID,
		"stream_id":    sessionID,
		"status":       "RECORDING_STOPPED",
	})
}

type recordingSummary struct {
	ID              string `json:"id"`
	FileName        string `json:"file_name"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	FileSizeBytes   int64  `json:"file_size_bytes,omitempty"`
}

func summarize(rec *store.Recording) recordingSummary {
	out := recordingSummary{
		ID:        rec.ID,
		FileName:  rec.FileName,
		StartTime: rec.StartTime.Format(recordTimeFormat),
	}
	if rec.EndTime.Valid {
		out.EndTime = rec.EndTime.Time.Format(recordTimeFormat)
	}
	if rec.DurationSeconds.Valid {
		out.DurationSeconds = rec.DurationSeconds.Int64
	}
	if rec.FileSizeBytes.Valid {
		out.FileSizeBytes = rec.FileSizeBytes.Int64
	}
	return out
}

const recordTimeFormat = "2006-01-02T15:04:05Z07:00"

// handleRecordingsList implements GET /api/v1/recordings.
func (s *Server) handleRecordingsList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListAll(r.Context())
	if err != nil {
		writeAPIError(w, s.logger, apierror.New(apierror.DBError, err.Error()))
		return
	}
	out := make([]recordingSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type recordingDetail struct {
	recordingSummary
	FilePath string `json:"file_path"`
	Status   string `json:"status"`
}

// handleRecordingGet implements GET /api/v1/recordings/{id}.
func (s *Server) handleRecordingGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRecordingLookupError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, recordingDetail{
		recordingSummary: summarize(rec),
		FilePath:         rec.FilePath,
		Status:           string(rec.Status),
	})
}

// handleRecordingDownload implements GET /api/v1/recordings/{id}/download.
func (s *Server) handleRecordingDownload(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRecordingLookupError(w, s.logger, err)
		return
	}

	f, err := os.Open(rec.FilePath)
	if err != nil {
		writeAPIError(w, s.logger, apierror.New(apierror.ResourceNotFound, "recording file is not available"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.FileName+`"`)
	http.ServeContent(w, r, rec.FileName, rec.StartTime, f)
}

// handleRecordingDelete implements DELETE /api/v1/recordings/{id}.
func (s *Server) handleRecordingDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeRecordingLookupError(w, s.logger, err)
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		writeRecordingLookupError(w, s.logger, err)
		return
	}
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.WithError(err).WithField("recording_id", id).Warn("failed to remove recording file from disk")
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeRecordingLookupError(w http.ResponseWriter, logger *logging.Logger, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeAPIError(w, logger, apierror.New(apierror.ResourceNotFound, "unknown recording id"))
		return
	}
	writeAPIError(w, logger, apierror.New(apierror.DBError, err.Error()))
}
