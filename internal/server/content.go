package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"digestly/internal/accounttoken"
	"digestly/internal/batch"
	"digestly/internal/pipeline"
	"digestly/internal/util"
	"digestly/pkg/domain"
	"digestly/pkg/store"
)

type batchRequest struct {
	URLs     []string `json:"urls"`
	Language string   `json:"language"`
}

// handleBatch admits a bulk submission for the authenticated account.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, account accounttoken.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.trusted)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tier := s.tierProfile(account.Tier)
	outcome, err := s.batch.SubmitBatch(r.Context(), account.ID, tier, req.URLs, req.Language)
	switch {
	case errors.Is(err, batch.ErrBatchTooLarge), errors.Is(err, batch.ErrBatchOverTierLimit):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, batch.ErrQuotaExhausted):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		s.logger.Error("batch submission failed", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "batch submission failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleContentByID serves GET /contents/{id} and POST /contents/{id}/retry.
func (s *Server) handleContentByID(w http.ResponseWriter, r *http.Request, account accounttoken.Account) {
	rest := strings.TrimPrefix(r.URL.Path, "/contents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.getContent(w, id, account)
	case "retry":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.retryContent(w, r, id, account)
	default:
		http.NotFound(w, r)
	}
}

// loadOwned fetches a content row and hides other accounts' rows behind 404.
func (s *Server) loadOwned(w http.ResponseWriter, id string, account accounttoken.Account) (domain.Content, bool) {
	c, ok, err := s.store.GetContent(id)
	if err != nil {
		s.logger.Error("content lookup failed", "content_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return domain.Content{}, false
	}
	if !ok || c.OwnerAccountID != account.ID {
		writeError(w, http.StatusNotFound, "content not found")
		return domain.Content{}, false
	}
	return c, true
}

func (s *Server) getContent(w http.ResponseWriter, id string, account accounttoken.Account) {
	c, ok := s.loadOwned(w, id, account)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) retryContent(w http.ResponseWriter, r *http.Request, id string, account accounttoken.Account) {
	if _, ok := s.loadOwned(w, id, account); !ok {
		return
	}
	outcome, err := s.pipeline.Retry(r.Context(), id, s.queue)
	switch {
	case errors.Is(err, pipeline.ErrRetryIllegal):
		writeError(w, http.StatusConflict, "retry not allowed from current state")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "content not found")
		return
	case err != nil:
		s.logger.Error("retry failed", "content_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contentId":         outcome.ContentID,
		"analysisTriggered": outcome.AnalysisTriggered,
	})
}
