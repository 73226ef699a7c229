package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"digestly/internal/accounttoken"
	"digestly/internal/batch"
	"digestly/internal/moderation"
	"digestly/internal/pipeline"
	"digestly/internal/quota"
	"digestly/internal/ratelimit"
	"digestly/pkg/domain"
	"digestly/pkg/queue"
	"digestly/pkg/store"
)

type stubVerifier struct {
	account accounttoken.Account
	err     error
}

func (s *stubVerifier) VerifyAccount(string) (accounttoken.Account, error) {
	return s.account, s.err
}

type stubAnalyzer struct {
	triggered bool
	calls     int
}

func (s *stubAnalyzer) Dispatch(_ context.Context, _, _ string) bool {
	s.calls++
	return s.triggered
}

type stubTranscriber struct{}

func (stubTranscriber) RequestTranscription(_ context.Context, _, _ string) (string, error) {
	return "tr-new", nil
}

type stubScraper struct{}

func (stubScraper) TriggerScrape(_ context.Context, _, _ string) error { return nil }

type stubExtractor struct{}

func (stubExtractor) ExtractURL(_ context.Context, _ string) (string, error) {
	return strings.Repeat("plain document text ", 10), nil
}

type stubQueue struct {
	enqueued []string
}

func (s *stubQueue) Enqueue(_ context.Context, contentID string) (queue.JobStatus, error) {
	s.enqueued = append(s.enqueued, contentID)
	return queue.JobStatus{ID: "job", ContentID: contentID}, nil
}

type testEnv struct {
	store    *store.MemoryStore
	analyzer *stubAnalyzer
	queue    *stubQueue
	server   *Server
}

func newTestEnv(t *testing.T, secret string, limiter *ratelimit.FixedWindowLimiter) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	analyzer := &stubAnalyzer{triggered: true}
	q := &stubQueue{}
	screener := moderation.NewScreener(mem, nil, nil, nil)
	pipe := pipeline.New(mem, screener, analyzer, stubTranscriber{}, stubScraper{}, stubExtractor{}, nil, nil)
	ledger := quota.NewLedger(mem)
	orchestrator := batch.New(mem, ledger, screener, q, nil)

	srv := New(Config{
		Store:    mem,
		Pipeline: pipe,
		Batch:    orchestrator,
		Queue:    q,
		Accounts: &stubVerifier{account: accounttoken.Account{ID: "acct-1", Tier: "pro"}},
		Limiter:  limiter,
		TierProfile: func(string) domain.TierProfile {
			return domain.TierProfile{Name: "pro", MonthlyAnalyses: 10, BatchLimit: 5}
		},
		WebhookSecret: secret,
	})
	return &testEnv{store: mem, analyzer: analyzer, queue: q, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer any-token")
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

const webhookSecret = "hook-secret-value"

func transcriptBody(transcriptID string) string {
	payload := map[string]any{
		"transcript_id":  transcriptID,
		"status":         "completed",
		"audio_duration": 60,
		"language_code":  "en",
		"text":           "a perfectly ordinary transcript about travel planning and packing tips",
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestWebhookUnconfiguredSecret(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token=whatever", transcriptBody("tr-1"), false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookRejectsWrongLengthToken(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token=short", transcriptBody("tr-1"), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookRejectsWrongToken(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	wrong := strings.Repeat("x", len(webhookSecret))
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token="+wrong, transcriptBody("tr-1"), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookMissingTranscriptID(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token="+webhookSecret, `{"status":"completed"}`, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookUnknownTranscript(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token="+webhookSecret, transcriptBody("tr-missing"), false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookTypeMismatch(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", Type: domain.TypeArticle, TranscriptID: "tr-1", Status: domain.StatusPending}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token="+webhookSecret, transcriptBody("tr-1"), false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookSuccess(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token="+webhookSecret, transcriptBody("tr-1"), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ContentID != "c1" || !resp.AnalysisTriggered {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWebhookVendorFailureStillOK(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	body := `{"transcript_id":"tr-1","status":"error","error":"transcription backend gone"}`
	rec := env.do(t, http.MethodPost, "/webhooks/transcription?token="+webhookSecret, body, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("vendor failure must still answer 200, got %d", rec.Code)
	}
	c, _, _ := env.store.GetContent("c1")
	if c.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", c.Status)
	}
}

func TestBatchRequiresAuth(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	rec := env.do(t, http.MethodPost, "/contents/batch", `{"urls":["https://a.com"]}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBatchSubmission(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	rec := env.do(t, http.MethodPost, "/contents/batch", `{"urls":["https://a.com","https://a.com","https://b.com"],"language":"en"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out batch.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2 distinct urls", len(out.Results))
	}
	if len(env.queue.enqueued) != 2 {
		t.Fatalf("enqueued = %v", env.queue.enqueued)
	}
}

func TestBatchOverTierLimit(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	urls := []string{"https://a.com", "https://b.com", "https://c.com", "https://d.com", "https://e.com", "https://f.com"}
	raw, _ := json.Marshal(map[string]any{"urls": urls})
	rec := env.do(t, http.MethodPost, "/contents/batch", string(raw), true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBatchQuotaExhausted(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	ledger := quota.NewLedger(env.store)
	for i := 0; i < 10; i++ {
		if err := ledger.Record("acct-1", domain.FieldAnalyses); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	rec := env.do(t, http.MethodPost, "/contents/batch", `{"urls":["https://a.com"]}`, true)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestBatchRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	env := newTestEnv(t, webhookSecret, limiter)

	if rec := env.do(t, http.MethodPost, "/contents/batch", `{"urls":["https://a.com"]}`, true); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/contents/batch", `{"urls":["https://b.com"]}`, true); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
}

func TestGetContentHidesForeignRows(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", OwnerAccountID: "someone-else", URL: "https://a.com", Type: domain.TypeArticle, Status: domain.StatusComplete}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/contents/c1", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetContent(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", OwnerAccountID: "acct-1", URL: "https://a.com", Type: domain.TypeArticle, Status: domain.StatusComplete}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/contents/c1", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var c domain.Content
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.ID != "c1" || c.Status != domain.StatusComplete {
		t.Fatalf("content = %+v", c)
	}
}

func TestRetryConflictFromAnalyzing(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", OwnerAccountID: "acct-1", Type: domain.TypePodcast, Status: domain.StatusAnalyzing}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/contents/c1/retry", "", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRetryFromError(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	if err := env.store.CreateContent(domain.Content{ID: "c1", OwnerAccountID: "acct-1", Type: domain.TypePodcast, Status: domain.StatusError, RawText: "still valid transcribed text from the earlier attempt"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/contents/c1/retry", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1", env.analyzer.calls)
	}
}

func TestAuthFailure(t *testing.T) {
	env := newTestEnv(t, webhookSecret, nil)
	env.server.accounts = &stubVerifier{err: errors.New("bad token")}
	rec := env.do(t, http.MethodGet, "/contents/c1", "", true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
