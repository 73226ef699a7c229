package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"digestly/internal/accounttoken"
	"digestly/internal/batch"
	"digestly/internal/pipeline"
	"digestly/internal/ratelimit"
	"digestly/internal/util"
	"digestly/pkg/domain"
	"digestly/pkg/store"
)

// AccountVerifier validates bearer tokens and yields the caller account.
type AccountVerifier interface {
	VerifyAccount(token string) (accounttoken.Account, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store          store.Store
	Pipeline       *pipeline.Pipeline
	Batch          *batch.Orchestrator
	Queue          pipeline.JobQueue
	Accounts       AccountVerifier
	Limiter        *ratelimit.FixedWindowLimiter
	TierProfile    func(name string) domain.TierProfile
	WebhookSecret  string
	TrustedProxies *util.TrustedProxies
	Logger         *slog.Logger
}

// Server exposes the ingestion HTTP endpoints.
type Server struct {
	store         store.Store
	pipeline      *pipeline.Pipeline
	batch         *batch.Orchestrator
	queue         pipeline.JobQueue
	accounts      AccountVerifier
	limiter       *ratelimit.FixedWindowLimiter
	tierProfile   func(name string) domain.TierProfile
	webhookSecret string
	trusted       *util.TrustedProxies
	logger        *slog.Logger
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:         cfg.Store,
		pipeline:      cfg.Pipeline,
		batch:         cfg.Batch,
		queue:         cfg.Queue,
		accounts:      cfg.Accounts,
		limiter:       cfg.Limiter,
		tierProfile:   cfg.TierProfile,
		webhookSecret: cfg.WebhookSecret,
		trusted:       cfg.TrustedProxies,
		logger:        logger,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("digestly", s.trusted, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/webhooks/transcription", s.handleTranscriptionWebhook)
	s.mux.Handle("/contents/batch", s.withAccount(s.handleBatch))
	s.mux.Handle("/contents/", s.withAccount(s.handleContentByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withAccount authenticates the caller and stashes the account on the
// request context.
func (s *Server) withAccount(next func(http.ResponseWriter, *http.Request, accounttoken.Account)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.accounts == nil {
			writeError(w, http.StatusInternalServerError, "account auth not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		account, err := s.accounts.VerifyAccount(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, account)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", false
	}
	return auth[len(prefix):], true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
