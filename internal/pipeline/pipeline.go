package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"digestly/internal/moderation"
	"digestly/internal/transcription"
	"digestly/pkg/domain"
	"digestly/pkg/queue"
	"digestly/pkg/storage"
	"digestly/pkg/store"
)

var (
	// ErrUnknownTranscript means no content row matches the vendor's
	// correlation ID.
	ErrUnknownTranscript = errors.New("unknown transcript id")
	// ErrWrongContentType means the matched row is not a transcribable
	// type; the callback was cross-wired.
	ErrWrongContentType = errors.New("content type does not take transcripts")
	// ErrRetryIllegal means the row is in a state retry cannot leave.
	ErrRetryIllegal = errors.New("retry not allowed from current state")
)

// Analyzer triggers downstream analysis for a content row.
type Analyzer interface {
	Dispatch(ctx context.Context, contentID, language string) bool
}

// Extractor pulls plain text out of a document URL.
type Extractor interface {
	ExtractURL(ctx context.Context, url string) (string, error)
}

// JobQueue accepts fire-and-forget pipeline starts.
type JobQueue interface {
	Enqueue(ctx context.Context, contentID string) (queue.JobStatus, error)
}

// Outcome reports what a webhook delivery caused.
type Outcome struct {
	ContentID         string
	AnalysisTriggered bool
}

// Pipeline owns a content row's lifecycle from creation to terminal state.
// All state lives in the store; the pipeline itself is stateless and can run
// on any replica.
type Pipeline struct {
	store       store.Store
	screener    *moderation.Screener
	analyzer    Analyzer
	transcriber Transcriber
	scraper     Scraper
	extractor   Extractor
	archive     storage.Archive
	logger      *slog.Logger
}

// New creates a pipeline. Archive may be nil; transcript archival is then
// skipped.
func New(s store.Store, screener *moderation.Screener, analyzer Analyzer, transcriber Transcriber, scraper Scraper, extractor Extractor, archive storage.Archive, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       s,
		screener:    screener,
		analyzer:    analyzer,
		transcriber: transcriber,
		scraper:     scraper,
		extractor:   extractor,
		archive:     archive,
		logger:      logger,
	}
}

// StartWorkers consumes queued pipeline starts until ctx is cancelled.
func (p *Pipeline) StartWorkers(ctx context.Context, q *queue.RedisJobQueue, concurrency int) {
	q.Start(ctx, concurrency, func(ctx context.Context, job queue.JobStatus) error {
		return p.Start(ctx, job.ContentID)
	})
}

// Start advances a pending content row into its type-specific first stage.
// Rows already past pending are left alone, so redelivered jobs are no-ops.
func (p *Pipeline) Start(ctx context.Context, contentID string) error {
	c, ok, err := p.store.GetContent(contentID)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != domain.StatusPending {
		p.logger.Info("start skipped, content already in flight",
			"content_id", contentID, "status", string(c.Status))
		return nil
	}

	switch {
	case c.Type.RequiresTranscription():
		return p.startTranscription(ctx, c)
	case c.Type == domain.TypePDF:
		return p.startDocument(ctx, c)
	default:
		return p.startScrape(ctx, c)
	}
}

// startTranscription submits the vendor job and parks the row in
// transcribing until the webhook arrives.
func (p *Pipeline) startTranscription(ctx context.Context, c domain.Content) error {
	transcriptID, err := p.transcriber.RequestTranscription(ctx, c.ID, c.URL)
	if err != nil {
		code := domain.Classify(err.Error())
		if setErr := p.store.SetContentStatus(c.ID, domain.StatusError, code); setErr != nil {
			p.logger.Error("status update failed", "content_id", c.ID, "error", setErr)
		}
		return fmt.Errorf("request transcription: %w", err)
	}
	if err := p.store.SetContentTranscriptRef(c.ID, transcriptID); err != nil {
		return fmt.Errorf("record transcript ref: %w", err)
	}
	return p.store.SetContentStatus(c.ID, domain.StatusTranscribing, "")
}

// startDocument extracts PDF text inline, screens it, and dispatches.
func (p *Pipeline) startDocument(ctx context.Context, c domain.Content) error {
	text, err := p.extractor.ExtractURL(ctx, c.URL)
	if err != nil {
		if setErr := p.store.SetContentStatus(c.ID, domain.StatusError, domain.ErrOCRFailed); setErr != nil {
			p.logger.Error("status update failed", "content_id", c.ID, "error", setErr)
		}
		return fmt.Errorf("extract document: %w", err)
	}
	if err := p.store.SetContentText(c.ID, text); err != nil {
		return fmt.Errorf("store text: %w", err)
	}
	p.archiveTranscript(ctx, c.ID, text)

	if res := p.screener.ScreenText(ctx, c.ID, text); res.Blocked {
		return p.store.SetContentStatus(c.ID, domain.StatusBlocked, domain.ErrContentPolicyViolation)
	}
	p.analyzer.Dispatch(ctx, c.ID, "")
	return nil
}

// startScrape fires the external scraper; the row stays pending until
// scraped text is delivered back.
func (p *Pipeline) startScrape(ctx context.Context, c domain.Content) error {
	if err := p.scraper.TriggerScrape(ctx, c.ID, c.URL); err != nil {
		if setErr := p.store.SetContentStatus(c.ID, domain.StatusError, domain.ErrScrapeFailed); setErr != nil {
			p.logger.Error("status update failed", "content_id", c.ID, "error", setErr)
		}
		return fmt.Errorf("trigger scrape: %w", err)
	}
	return nil
}

// HandleTranscript processes one vendor webhook delivery. Redeliveries for
// rows already past transcribing are no-ops: no duplicate flags, no second
// dispatch.
func (p *Pipeline) HandleTranscript(ctx context.Context, payload transcription.Payload) (Outcome, error) {
	transcriptID := strings.TrimSpace(payload.TranscriptID)
	if transcriptID == "" {
		return Outcome{}, ErrUnknownTranscript
	}
	c, ok, err := p.store.GetContentByTranscriptID(transcriptID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup transcript: %w", err)
	}
	if !ok {
		return Outcome{}, ErrUnknownTranscript
	}
	if !c.Type.RequiresTranscription() {
		return Outcome{}, ErrWrongContentType
	}
	if c.Status != domain.StatusPending && c.Status != domain.StatusTranscribing {
		p.logger.Info("duplicate transcript delivery ignored",
			"content_id", c.ID, "status", string(c.Status))
		return Outcome{ContentID: c.ID}, nil
	}

	language := payload.Language
	if language == "" {
		language = "en"
	}

	if payload.Failed() {
		return p.failTranscript(c.ID, language, domain.MarkerTranscriptionFailed, domain.Classify(payload.Error))
	}

	transcript := transcription.Normalize(payload)
	if !transcript.Usable() {
		return p.failTranscript(c.ID, language, domain.MarkerTranscriptionEmpty, domain.ErrTranscriptionEmpty)
	}

	if err := p.store.SetContentTranscript(c.ID, transcript.Text, transcript.DurationSeconds, transcript.SpeakerCount); err != nil {
		return Outcome{}, fmt.Errorf("store transcript: %w", err)
	}
	p.archiveTranscript(ctx, c.ID, transcript.Text)

	if res := p.screener.ScreenText(ctx, c.ID, transcript.Text); res.Blocked {
		if err := p.store.SetContentStatus(c.ID, domain.StatusBlocked, domain.ErrContentPolicyViolation); err != nil {
			p.logger.Error("status update failed", "content_id", c.ID, "error", err)
		}
		return Outcome{ContentID: c.ID}, nil
	}

	triggered := p.analyzer.Dispatch(ctx, c.ID, language)
	return Outcome{ContentID: c.ID, AnalysisTriggered: triggered}, nil
}

// failTranscript records a terminal vendor failure. The marker on the text
// field lets the UI distinguish "vendor failed" from "vendor produced
// nothing usable"; the raw vendor error never leaves the classifier.
func (p *Pipeline) failTranscript(contentID, language, marker string, code domain.ErrorCode) (Outcome, error) {
	if err := p.store.SetContentText(contentID, marker); err != nil {
		return Outcome{}, fmt.Errorf("store failure marker: %w", err)
	}
	if err := p.store.SetContentStatus(contentID, domain.StatusError, code); err != nil {
		return Outcome{}, fmt.Errorf("store failure status: %w", err)
	}
	if err := p.store.UpsertSummary(domain.Summary{
		ContentID:   contentID,
		Language:    language,
		SummaryText: code.UserMessage(),
		Status:      domain.SummaryError,
	}); err != nil {
		p.logger.Error("summary upsert failed", "content_id", contentID, "error", err)
	}
	return Outcome{ContentID: contentID}, nil
}

// Retry re-enters the pipeline after operator action. Rows with usable text
// go straight back to analysis; rows that never got text start over.
func (p *Pipeline) Retry(ctx context.Context, contentID string, enqueue JobQueue) (Outcome, error) {
	c, ok, err := p.store.GetContent(contentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load content: %w", err)
	}
	if !ok {
		return Outcome{}, store.ErrNotFound
	}
	switch c.Status {
	case domain.StatusPending, domain.StatusBlocked, domain.StatusError:
	default:
		return Outcome{}, ErrRetryIllegal
	}

	if hasUsableText(c.RawText) {
		triggered := p.analyzer.Dispatch(ctx, c.ID, "")
		return Outcome{ContentID: c.ID, AnalysisTriggered: triggered}, nil
	}

	if err := p.store.SetContentStatus(c.ID, domain.StatusPending, ""); err != nil {
		return Outcome{}, fmt.Errorf("reset status: %w", err)
	}
	if enqueue != nil {
		if _, err := enqueue.Enqueue(ctx, c.ID); err != nil {
			return Outcome{}, fmt.Errorf("enqueue retry: %w", err)
		}
	}
	return Outcome{ContentID: c.ID}, nil
}

// archiveTranscript uploads the full text blob; best-effort.
func (p *Pipeline) archiveTranscript(ctx context.Context, contentID, text string) {
	if p.archive == nil {
		return
	}
	if err := p.archive.PutText(ctx, storage.TranscriptKey(contentID), text); err != nil {
		p.logger.Error("transcript archive failed", "content_id", contentID, "error", err)
	}
}

// hasUsableText reports whether the stored text is real content rather than
// a failure marker.
func hasUsableText(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	return text != domain.MarkerTranscriptionFailed && text != domain.MarkerTranscriptionEmpty
}
