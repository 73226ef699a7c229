package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"digestly/internal/moderation"
	"digestly/pkg/domain"
	"digestly/pkg/store"
)

const (
	defaultAttempts    = 3
	defaultBackoffBase = 2 * time.Second
	maxResponseBytes   = 1 << 20
)

// Config configures the analysis dispatcher.
type Config struct {
	AnalyzerURL string
	Token       string
	HTTPClient  *http.Client
	// Attempts and BackoffBase default to 3 and 2s. Tests shrink the base
	// to keep the retry loop fast.
	Attempts    int
	BackoffBase time.Duration
}

// Dispatcher hands a content row to the downstream analyzer. Only the
// content ID crosses the wire; the analyzer reads the row itself.
type Dispatcher struct {
	store       store.Store
	screener    *moderation.Screener
	analyzerURL string
	token       string
	httpClient  *http.Client
	attempts    int
	backoffBase time.Duration
	logger      *slog.Logger
}

// New creates a dispatcher.
func New(s store.Store, screener *moderation.Screener, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       s,
		screener:    screener,
		analyzerURL: strings.TrimRight(cfg.AnalyzerURL, "/"),
		token:       cfg.Token,
		httpClient:  cfg.HTTPClient,
		attempts:    cfg.Attempts,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
	}
}

// Dispatch triggers analysis for a content row and reports whether it was
// accepted. Between attempts the backoff grows linearly with the attempt
// number; failures here are transient infrastructure blips, not rate limits.
// Terminal failure moves the row to error and upserts a summary telling the
// user analysis failed to start, so calling this again for the same row is
// safe.
func (d *Dispatcher) Dispatch(ctx context.Context, contentID, language string) bool {
	if language == "" {
		language = "en"
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				return d.fail(contentID, language, lastErr)
			case <-time.After(time.Duration(attempt-1) * d.backoffBase):
			}
		}

		accepted, refusal, err := d.call(ctx, contentID)
		if err != nil {
			lastErr = err
			d.logger.Warn("analysis dispatch attempt failed",
				"content_id", contentID, "attempt", attempt, "error", err)
			continue
		}
		if refusal != nil {
			d.screener.ScreenRefusal(ctx, contentID, refusal.Reason)
			if err := d.store.SetContentStatus(contentID, domain.StatusBlocked, domain.ErrContentPolicyViolation); err != nil {
				d.logger.Error("status update failed", "content_id", contentID, "error", err)
			}
			return false
		}
		if accepted {
			if err := d.store.SetContentStatus(contentID, domain.StatusAnalyzing, ""); err != nil {
				d.logger.Error("status update failed", "content_id", contentID, "error", err)
			}
			return true
		}
	}
	return d.fail(contentID, language, lastErr)
}

// call performs one analyzer request. A non-2xx status is an error; a 2xx
// body is additionally inspected for a refusal signal.
func (d *Dispatcher) call(ctx context.Context, contentID string) (bool, *moderation.Refusal, error) {
	body, err := json.Marshal(map[string]string{"contentId": contentID})
	if err != nil {
		return false, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.analyzerURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return false, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil, &statusError{code: resp.StatusCode}
	}
	if refusal, ok := moderation.DetectRefusal(respBody); ok {
		return false, &refusal, nil
	}
	return true, nil, nil
}

// fail records the terminal dispatch failure: error status plus a summary
// whose message tells the user transcription worked but analysis did not
// start. The summary write is an upsert keyed by (content, language), so
// redispatching the same row never duplicates it.
func (d *Dispatcher) fail(contentID, language string, cause error) bool {
	d.logger.Error("analysis dispatch exhausted retries",
		"content_id", contentID, "attempts", d.attempts, "error", cause)
	if err := d.store.SetContentStatus(contentID, domain.StatusError, domain.ErrAIAnalysisFailed); err != nil {
		d.logger.Error("status update failed", "content_id", contentID, "error", err)
	}
	if err := d.store.UpsertSummary(domain.Summary{
		ContentID:   contentID,
		Language:    language,
		SummaryText: domain.ErrAIAnalysisFailed.UserMessage(),
		Status:      domain.SummaryError,
	}); err != nil {
		d.logger.Error("summary upsert failed", "content_id", contentID, "error", err)
	}
	return false
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("analyzer returned status %d", e.code)
}
