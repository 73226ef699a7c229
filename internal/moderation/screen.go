package moderation

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"digestly/internal/util"
	"digestly/pkg/domain"
	"digestly/pkg/events"
	"digestly/pkg/storage"
	"digestly/pkg/store"
)

// previewLen bounds the stored text preview so flag rows stay small.
const previewLen = 200

// Result is a screening outcome. Blocked is derived purely from the
// severities of the emitted flags.
type Result struct {
	Blocked bool
	Flags   []domain.ModerationFlag
}

// Screener runs the detector tables and persists every flag before the
// blocking decision is returned. Archive and alerts are optional; flag
// persistence and alerting are best-effort and never fail the caller.
type Screener struct {
	store   store.Store
	archive storage.Archive
	alerts  events.ReviewAlertPublisher
	logger  *slog.Logger
}

// NewScreener creates a moderation screener. Archive and alerts may be nil.
func NewScreener(s store.Store, archive storage.Archive, alerts events.ReviewAlertPublisher, logger *slog.Logger) *Screener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Screener{store: s, archive: archive, alerts: alerts, logger: logger}
}

// ScreenURL screens a bare URL at submission time, before any Content row
// exists. contentID may be empty.
func (s *Screener) ScreenURL(ctx context.Context, contentID, url string) Result {
	return s.record(ctx, contentID, url, MatchURL(url))
}

// ScreenText screens scraped or transcribed text for a Content row.
func (s *Screener) ScreenText(ctx context.Context, contentID, text string) Result {
	return s.record(ctx, contentID, text, MatchText(text))
}

// ScreenRefusal records an analyzer refusal as a high-severity flag. The
// refusal reason drives category inference.
func (s *Screener) ScreenRefusal(ctx context.Context, contentID, reason string) Result {
	det := detection{
		source:     domain.SourceAIRefusal,
		severity:   domain.SeverityHigh,
		categories: InferCategories(reason),
		reason:     "analyzer refused: " + truncate(reason, previewLen),
	}
	return s.record(ctx, contentID, reason, []detection{det})
}

// record turns detections into persisted flags and computes the blocking
// decision. Store, archive and publish failures are logged and swallowed:
// the in-memory decision is always returned.
func (s *Screener) record(ctx context.Context, contentID, material string, detections []detection) Result {
	if len(detections) == 0 {
		return Result{}
	}

	hash := contentHash(material)
	result := Result{Flags: make([]domain.ModerationFlag, 0, len(detections))}
	for _, det := range detections {
		flag := domain.ModerationFlag{
			ID:           util.NewID(),
			ContentID:    contentID,
			Source:       det.source,
			Severity:     det.severity,
			Categories:   det.categories,
			Reason:       det.reason,
			ContentHash:  hash,
			TextPreview:  truncate(material, previewLen),
			ReviewStatus: domain.ReviewPending,
			CreatedAt:    time.Now().UTC(),
		}
		if det.severity.Blocking() {
			result.Blocked = true
		}
		result.Flags = append(result.Flags, flag)

		if err := s.store.SaveModerationFlag(flag); err != nil {
			s.logger.Error("moderation flag write failed",
				"content_id", contentID, "source", string(det.source), "error", err)
		}
		s.notify(ctx, flag, material)
	}
	return result
}

// notify archives a forensic snapshot for critical flags and publishes a
// review alert for blocking flags. Both are best-effort.
func (s *Screener) notify(ctx context.Context, flag domain.ModerationFlag, material string) {
	if s.archive != nil && flag.Severity == domain.SeverityCritical {
		if err := s.archive.PutText(ctx, storage.ForensicKey(flag.ContentHash), material); err != nil {
			s.logger.Error("forensic snapshot failed", "flag_id", flag.ID, "error", err)
		}
	}
	if s.alerts != nil && flag.Severity.Blocking() {
		if err := s.alerts.PublishFlag(ctx, flag); err != nil {
			s.logger.Error("review alert publish failed", "flag_id", flag.ID, "error", err)
		}
	}
}

func contentHash(material string) string {
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
