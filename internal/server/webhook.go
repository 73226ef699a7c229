package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"digestly/internal/pipeline"
	"digestly/internal/transcription"
)

// maxTranscriptIDLen bounds the vendor correlation ID.
const maxTranscriptIDLen = 256

type webhookResponse struct {
	Success           bool   `json:"success"`
	ContentID         string `json:"contentId,omitempty"`
	AnalysisTriggered bool   `json:"analysisTriggered"`
}

// handleTranscriptionWebhook processes the vendor's "transcription complete"
// callback. The vendor authenticates with a shared secret in the query
// string; the comparison rejects on length mismatch before the constant-time
// compare runs. Vendor-reported failures are still a 200: the webhook itself
// was handled.
func (s *Server) handleTranscriptionWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.webhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}
	token := r.URL.Query().Get("token")
	if len(token) != len(s.webhookSecret) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload transcription.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	transcriptID := strings.TrimSpace(payload.TranscriptID)
	if transcriptID == "" || len(transcriptID) > maxTranscriptIDLen {
		writeError(w, http.StatusBadRequest, "missing or invalid transcript id")
		return
	}

	outcome, err := s.pipeline.HandleTranscript(r.Context(), payload)
	switch {
	case errors.Is(err, pipeline.ErrUnknownTranscript):
		writeError(w, http.StatusNotFound, "unknown transcript id")
		return
	case errors.Is(err, pipeline.ErrWrongContentType):
		writeError(w, http.StatusBadRequest, "content type mismatch")
		return
	case err != nil:
		s.logger.Error("webhook processing failed", "transcript_id", transcriptID, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Success:           true,
		ContentID:         outcome.ContentID,
		AnalysisTriggered: outcome.AnalysisTriggered,
	})
}
