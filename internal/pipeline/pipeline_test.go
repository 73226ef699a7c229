package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"digestly/internal/moderation"
	"digestly/internal/transcription"
	"digestly/pkg/domain"
	"digestly/pkg/queue"
	"digestly/pkg/storage"
	"digestly/pkg/store"
)

type stubTranscriber struct {
	transcriptID string
	err          error
	calls        int
}

func (s *stubTranscriber) RequestTranscription(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.transcriptID, s.err
}

type stubScraper struct {
	err   error
	calls int
}

func (s *stubScraper) TriggerScrape(_ context.Context, _, _ string) error {
	s.calls++
	return s.err
}

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) ExtractURL(_ context.Context, _ string) (string, error) {
	return s.text, s.err
}

type stubAnalyzer struct {
	triggered bool
	calls     int
}

func (s *stubAnalyzer) Dispatch(_ context.Context, _, _ string) bool {
	s.calls++
	return s.triggered
}

type stubQueue struct {
	enqueued []string
	err      error
}

func (s *stubQueue) Enqueue(_ context.Context, contentID string) (queue.JobStatus, error) {
	if s.err != nil {
		return queue.JobStatus{}, s.err
	}
	s.enqueued = append(s.enqueued, contentID)
	return queue.JobStatus{ID: "job-1", ContentID: contentID}, nil
}

type fixture struct {
	store       *store.MemoryStore
	archive     *storage.MemoryArchive
	transcriber *stubTranscriber
	scraper     *stubScraper
	extractor   *stubExtractor
	analyzer    *stubAnalyzer
	pipeline    *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       store.NewMemoryStore(),
		archive:     storage.NewMemoryArchive(),
		transcriber: &stubTranscriber{transcriptID: "tr-1"},
		scraper:     &stubScraper{},
		extractor:   &stubExtractor{text: strings.Repeat("benign words about cooking ", 10)},
		analyzer:    &stubAnalyzer{triggered: true},
	}
	screener := moderation.NewScreener(f.store, nil, nil, nil)
	f.pipeline = New(f.store, screener, f.analyzer, f.transcriber, f.scraper, f.extractor, f.archive, nil)
	return f
}

func (f *fixture) seed(t *testing.T, c domain.Content) {
	t.Helper()
	if err := f.store.CreateContent(c); err != nil {
		t.Fatalf("seed content: %v", err)
	}
}

func TestStartPodcastRequestsTranscription(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", URL: "https://pods.example/ep1.mp3", Type: domain.TypePodcast, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("transcriber calls = %d", f.transcriber.calls)
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusTranscribing || c.TranscriptID != "tr-1" {
		t.Fatalf("content = status %q transcript %q", c.Status, c.TranscriptID)
	}
}

func TestStartSkipsNonPendingRows(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, Status: domain.StatusAnalyzing})

	if err := f.pipeline.Start(context.Background(), "c1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.transcriber.calls != 0 {
		t.Fatalf("in-flight row must not restart, calls = %d", f.transcriber.calls)
	}
}

func TestStartTranscriberFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.transcriber.err = errors.New("transcription service rejected the job")
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypeYouTube, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err == nil {
		t.Fatalf("expected error")
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", c.Status)
	}
	if c.ErrorCode != domain.ErrTranscriptionFailed {
		t.Fatalf("code = %q", c.ErrorCode)
	}
}

func TestStartPDFExtractsAndDispatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", URL: "https://docs.example/a.pdf", Type: domain.TypePDF, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	c, _, _ := f.store.GetContent("c1")
	if c.RawText == "" {
		t.Fatalf("expected extracted text on row")
	}
	if f.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d", f.analyzer.calls)
	}
	if _, ok := f.archive.Objects[storage.TranscriptKey("c1")]; !ok {
		t.Fatalf("expected archived text blob")
	}
}

func TestStartPDFExtractionFailure(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("no text extracted from pdf")
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePDF, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err == nil {
		t.Fatalf("expected error")
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusError || c.ErrorCode != domain.ErrOCRFailed {
		t.Fatalf("content = status %q code %q", c.Status, c.ErrorCode)
	}
}

func TestStartPDFBlockedByModeration(t *testing.T) {
	f := newFixture(t)
	f.extractor.text = "a document describing child exploitation networks " + strings.Repeat("x", 40)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePDF, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusBlocked {
		t.Fatalf("status = %q, want blocked", c.Status)
	}
	if f.analyzer.calls != 0 {
		t.Fatalf("blocked content must not dispatch, calls = %d", f.analyzer.calls)
	}
}

func TestStartArticleTriggersScrape(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", URL: "https://news.example/story", Type: domain.TypeArticle, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.scraper.calls != 1 {
		t.Fatalf("scraper calls = %d", f.scraper.calls)
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusPending {
		t.Fatalf("status = %q, article stays pending until scrape delivers", c.Status)
	}
}

func TestStartScrapeFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.scraper.err = errors.New("connection refused")
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypeXPost, Status: domain.StatusPending})

	if err := f.pipeline.Start(context.Background(), "c1"); err == nil {
		t.Fatalf("expected error")
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusError || c.ErrorCode != domain.ErrScrapeFailed {
		t.Fatalf("content = status %q code %q", c.Status, c.ErrorCode)
	}
}

func usableTranscriptPayload() transcription.Payload {
	return transcription.Payload{
		TranscriptID:  "tr-1",
		Status:        "completed",
		AudioDuration: 120,
		Language:      "en",
		Utterances: []transcription.Utterance{
			{Speaker: "A", Text: "A long and perfectly ordinary conversation about gardening techniques."},
			{Speaker: "B", Text: "Yes, raised beds drain much better in heavy clay soil."},
		},
	}
}

func TestHandleTranscriptUnknownID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.HandleTranscript(context.Background(), usableTranscriptPayload()); !errors.Is(err, ErrUnknownTranscript) {
		t.Fatalf("err = %v, want ErrUnknownTranscript", err)
	}
}

func TestHandleTranscriptWrongType(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypeArticle, TranscriptID: "tr-1", Status: domain.StatusPending})

	if _, err := f.pipeline.HandleTranscript(context.Background(), usableTranscriptPayload()); !errors.Is(err, ErrWrongContentType) {
		t.Fatalf("err = %v, want ErrWrongContentType", err)
	}
}

func TestHandleTranscriptSuccessDispatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing})

	out, err := f.pipeline.HandleTranscript(context.Background(), usableTranscriptPayload())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.ContentID != "c1" || !out.AnalysisTriggered {
		t.Fatalf("outcome = %+v", out)
	}
	c, _, _ := f.store.GetContent("c1")
	if c.DurationSeconds != 120 || c.SpeakerCount != 2 {
		t.Fatalf("metrics = duration %d speakers %d", c.DurationSeconds, c.SpeakerCount)
	}
	if _, ok := f.archive.Objects[storage.TranscriptKey("c1")]; !ok {
		t.Fatalf("expected archived transcript")
	}
}

func TestHandleTranscriptRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing})

	if _, err := f.pipeline.HandleTranscript(context.Background(), usableTranscriptPayload()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	flagsBefore := len(f.store.AllFlags())
	callsBefore := f.analyzer.calls

	out, err := f.pipeline.HandleTranscript(context.Background(), usableTranscriptPayload())
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if out.AnalysisTriggered {
		t.Fatalf("redelivery must not trigger analysis")
	}
	if f.analyzer.calls != callsBefore {
		t.Fatalf("redelivery dispatched analysis again")
	}
	if len(f.store.AllFlags()) != flagsBefore {
		t.Fatalf("redelivery created duplicate flags")
	}
}

func TestHandleTranscriptVendorFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing})

	payload := transcription.Payload{TranscriptID: "tr-1", Status: "error", Error: "Transcription engine crashed", Language: "en"}
	out, err := f.pipeline.HandleTranscript(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.AnalysisTriggered {
		t.Fatalf("failed transcript must not trigger analysis")
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusError || c.RawText != domain.MarkerTranscriptionFailed {
		t.Fatalf("content = status %q text %q", c.Status, c.RawText)
	}
	if c.ErrorCode != domain.ErrTranscriptionFailed {
		t.Fatalf("code = %q", c.ErrorCode)
	}
	sum, ok, _ := f.store.GetSummary("c1", "en")
	if !ok || sum.Status != domain.SummaryError {
		t.Fatalf("summary = %+v ok=%v", sum, ok)
	}
	if strings.Contains(sum.SummaryText, "crashed") {
		t.Fatalf("vendor error leaked into summary: %q", sum.SummaryText)
	}
}

func TestHandleTranscriptEmptyResult(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing})

	payload := transcription.Payload{TranscriptID: "tr-1", Status: "completed", Text: "uh", Language: "en"}
	if _, err := f.pipeline.HandleTranscript(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	c, _, _ := f.store.GetContent("c1")
	if c.RawText != domain.MarkerTranscriptionEmpty {
		t.Fatalf("text = %q, want empty marker", c.RawText)
	}
	if c.ErrorCode != domain.ErrTranscriptionEmpty {
		t.Fatalf("code = %q", c.ErrorCode)
	}
}

func TestHandleTranscriptBlockedText(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, TranscriptID: "tr-1", Status: domain.StatusTranscribing})

	payload := transcription.Payload{
		TranscriptID: "tr-1",
		Status:       "completed",
		Text:         "this episode catalogs child exploitation rings and how they operate online",
		Language:     "en",
	}
	out, err := f.pipeline.HandleTranscript(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.AnalysisTriggered {
		t.Fatalf("blocked content must not trigger analysis")
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusBlocked {
		t.Fatalf("status = %q, want blocked", c.Status)
	}
	if f.analyzer.calls != 0 {
		t.Fatalf("analyzer called for blocked content")
	}
}

func TestRetryIllegalStates(t *testing.T) {
	f := newFixture(t)
	for _, status := range []domain.ContentStatus{domain.StatusTranscribing, domain.StatusAnalyzing, domain.StatusComplete} {
		f.seed(t, domain.Content{ID: "c-" + string(status), Type: domain.TypePodcast, Status: status})
		if _, err := f.pipeline.Retry(context.Background(), "c-"+string(status), nil); !errors.Is(err, ErrRetryIllegal) {
			t.Fatalf("retry from %s: err = %v, want ErrRetryIllegal", status, err)
		}
	}
}

func TestRetryWithTextRedispatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, Status: domain.StatusError, RawText: "previously transcribed text that is still perfectly valid"})

	out, err := f.pipeline.Retry(context.Background(), "c1", nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !out.AnalysisTriggered || f.analyzer.calls != 1 {
		t.Fatalf("outcome = %+v, analyzer calls = %d", out, f.analyzer.calls)
	}
}

func TestRetryWithoutTextReenqueues(t *testing.T) {
	f := newFixture(t)
	q := &stubQueue{}
	f.seed(t, domain.Content{ID: "c1", Type: domain.TypePodcast, Status: domain.StatusError, RawText: domain.MarkerTranscriptionFailed})

	out, err := f.pipeline.Retry(context.Background(), "c1", q)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.AnalysisTriggered {
		t.Fatalf("re-enqueued retry must not report analysis")
	}
	c, _, _ := f.store.GetContent("c1")
	if c.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", c.Status)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != "c1" {
		t.Fatalf("enqueued = %v", q.enqueued)
	}
}
