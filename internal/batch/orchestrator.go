package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"digestly/internal/moderation"
	"digestly/internal/pipeline"
	"digestly/internal/quota"
	"digestly/pkg/domain"
	"digestly/pkg/store"
)

// MaxBatchSize is the absolute ceiling on one submission, independent of any
// tier's batch limit.
const MaxBatchSize = 20

// startConcurrency bounds parallel queue pushes during fan-out.
const startConcurrency = 4

var (
	// ErrBatchTooLarge means the submission exceeds the absolute ceiling.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds the maximum of %d urls", MaxBatchSize)
	// ErrBatchOverTierLimit means the submission exceeds the tier's limit.
	ErrBatchOverTierLimit = errors.New("batch exceeds the tier batch limit")
	// ErrQuotaExhausted means the account has no analysis quota left.
	ErrQuotaExhausted = errors.New("monthly analysis quota exhausted")
)

// Result is the per-URL outcome of a batch submission.
type Result struct {
	URL       string             `json:"url"`
	ContentID string             `json:"contentId,omitempty"`
	Type      domain.ContentType `json:"type"`
	Existing  bool               `json:"existing,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Invalid is one rejected input with its reason.
type Invalid struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Outcome is the full batch response.
type Outcome struct {
	Results           []Result  `json:"results"`
	Invalid           []Invalid `json:"invalid"`
	SkippedDueToLimit int       `json:"skippedDueToLimit"`
	BatchLimit        int       `json:"batchLimit"`
	Tier              string    `json:"tier"`
}

// Orchestrator validates, deduplicates and quota-gates bulk submissions,
// fanning each admitted URL into the ingestion pipeline.
type Orchestrator struct {
	store    store.Store
	ledger   *quota.Ledger
	screener *moderation.Screener
	queue    pipeline.JobQueue
	logger   *slog.Logger
}

// New creates a batch orchestrator.
func New(s store.Store, ledger *quota.Ledger, screener *moderation.Screener, q pipeline.JobQueue, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: s, ledger: ledger, screener: screener, queue: q, logger: logger}
}

// ClassifyURL maps a URL to the content type that determines its pipeline
// path. Anything unrecognized is treated as an article.
func ClassifyURL(url string) domain.ContentType {
	lowered := strings.ToLower(url)
	switch {
	case strings.Contains(lowered, "youtube.com/") || strings.Contains(lowered, "youtu.be/"):
		return domain.TypeYouTube
	case (strings.Contains(lowered, "x.com/") || strings.Contains(lowered, "twitter.com/")) && strings.Contains(lowered, "/status/"):
		return domain.TypeXPost
	case strings.Contains(lowered, "podcasts.apple.com/") ||
		strings.Contains(lowered, "open.spotify.com/episode") ||
		strings.HasSuffix(lowered, ".mp3"):
		return domain.TypePodcast
	case strings.HasSuffix(lowered, ".pdf"):
		return domain.TypePDF
	default:
		return domain.TypeArticle
	}
}

// SubmitBatch admits up to the account's remaining quota of valid, distinct
// URLs and starts the pipeline for each new row. A duplicate URL within the
// batch is folded into the first occurrence, and a URL the account already
// submitted reuses the existing row without consuming quota.
func (o *Orchestrator) SubmitBatch(ctx context.Context, accountID string, tier domain.TierProfile, urls []string, language string) (Outcome, error) {
	out := Outcome{BatchLimit: tier.BatchLimit, Tier: tier.Name}

	if len(urls) == 0 {
		return out, errors.New("batch contains no urls")
	}
	if len(urls) > MaxBatchSize {
		return out, ErrBatchTooLarge
	}
	if tier.BatchLimit > 0 && len(urls) > tier.BatchLimit {
		return out, ErrBatchOverTierLimit
	}

	remaining, err := o.ledger.Remaining(accountID, tier, domain.FieldAnalyses)
	if err != nil {
		return out, fmt.Errorf("quota check: %w", err)
	}
	if remaining <= 0 {
		return out, ErrQuotaExhausted
	}

	admitted := o.admit(ctx, urls, remaining, &out)

	results := make([]Result, len(admitted))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(startConcurrency)
	for i, url := range admitted {
		i, url := i, url
		group.Go(func() error {
			results[i] = o.startOne(groupCtx, accountID, url, language)
			return nil
		})
	}
	_ = group.Wait()

	out.Results = results
	return out, nil
}

// admit validates, screens, deduplicates and quota-caps the submitted URLs.
func (o *Orchestrator) admit(ctx context.Context, urls []string, remaining int, out *Outcome) []string {
	seen := make(map[string]bool, len(urls))
	var admitted []string
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if err := validation.Validate(url, validation.Required, validation.Length(1, 2048), is.URL); err != nil {
			out.Invalid = append(out.Invalid, Invalid{URL: raw, Reason: err.Error()})
			continue
		}
		if res := o.screener.ScreenURL(ctx, "", url); res.Blocked {
			out.Invalid = append(out.Invalid, Invalid{URL: raw, Reason: "url rejected by moderation"})
			continue
		}
		if seen[url] {
			continue
		}
		seen[url] = true
		if len(admitted) >= remaining {
			out.SkippedDueToLimit++
			continue
		}
		admitted = append(admitted, url)
	}
	return admitted
}

// startOne creates (or reuses) the content row for a URL and enqueues the
// pipeline start. A failure to start one item never aborts the batch; it is
// reported on that item's result only.
func (o *Orchestrator) startOne(ctx context.Context, accountID, url, language string) Result {
	contentType := ClassifyURL(url)
	result := Result{URL: url, Type: contentType}

	existing, found, err := o.store.GetContentByOwnerURL(accountID, url)
	if err != nil {
		result.Error = "lookup failed"
		o.logger.Error("batch lookup failed", "url", url, "error", err)
		return result
	}
	if found {
		result.ContentID = existing.ID
		result.Existing = true
		return result
	}

	now := time.Now().UTC()
	content := domain.Content{
		ID:             uuid.NewString(),
		OwnerAccountID: accountID,
		URL:            url,
		Type:           contentType,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateContent(content); err != nil {
		result.Error = "create failed"
		o.logger.Error("batch create failed", "url", url, "error", err)
		return result
	}
	result.ContentID = content.ID

	if err := o.ledger.Record(accountID, domain.FieldAnalyses); err != nil {
		// The row exists but was never charged; surface it rather than
		// risking unmetered usage on a retry storm.
		result.Error = "quota record failed"
		o.logger.Error("quota record failed", "content_id", content.ID, "error", err)
		return result
	}

	if job, err := o.queue.Enqueue(ctx, content.ID); err != nil {
		result.Error = "failed to start processing"
		o.logger.Error("pipeline start enqueue failed", "content_id", content.ID, "error", err)
	} else {
		o.logger.Info("pipeline start enqueued",
			"content_id", content.ID, "job_id", job.ID, "language", language)
	}
	return result
}
