package store

import (
	"errors"

	"digestly/pkg/domain"
)

// ErrNotFound is returned by setters targeting a missing row.
var ErrNotFound = errors.New("store: record not found")

// Store defines persistence operations for contents, moderation flags,
// usage counters, and summaries. Pipeline state lives entirely here; no
// component keeps state in process memory between stages.
type Store interface {
	// contents
	CreateContent(domain.Content) error
	GetContent(id string) (domain.Content, bool, error)
	GetContentByOwnerURL(ownerID, url string) (domain.Content, bool, error)
	GetContentByTranscriptID(transcriptID string) (domain.Content, bool, error)
	SetContentStatus(id string, status domain.ContentStatus, code domain.ErrorCode) error
	SetContentTranscriptRef(id, transcriptID string) error
	SetContentText(id, text string) error
	SetContentTranscript(id, text string, durationSeconds, speakerCount int) error

	// moderation flags
	SaveModerationFlag(domain.ModerationFlag) error
	ListFlagsByContent(contentID string) ([]domain.ModerationFlag, error)

	// usage counters
	GetUsage(accountID, period, field string) (int, error)
	IncrementUsage(accountID, period, field string) error

	// summaries
	UpsertSummary(domain.Summary) error
	GetSummary(contentID, language string) (domain.Summary, bool, error)
}
