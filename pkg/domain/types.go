package domain

import "time"

// ContentType classifies a submitted URL by how its text is obtained.
type ContentType string

const (
	TypeYouTube ContentType = "youtube"
	TypeArticle ContentType = "article"
	TypePodcast ContentType = "podcast"
	TypeXPost   ContentType = "x_post"
	TypePDF     ContentType = "pdf"
)

// RequiresTranscription reports whether text for this type arrives via the
// external speech-to-text vendor's webhook rather than scraping.
func (t ContentType) RequiresTranscription() bool {
	return t == TypeYouTube || t == TypePodcast
}

// ContentStatus is the processing state of a content row. Transitions move
// forward only, except for an operator-triggered retry.
type ContentStatus string

const (
	StatusPending      ContentStatus = "pending"
	StatusTranscribing ContentStatus = "transcribing"
	StatusBlocked      ContentStatus = "blocked"
	StatusAnalyzing    ContentStatus = "analyzing"
	StatusComplete     ContentStatus = "complete"
	StatusError        ContentStatus = "error"
)

// Terminal reports whether no further automatic transition occurs.
func (s ContentStatus) Terminal() bool {
	return s == StatusBlocked || s == StatusComplete || s == StatusError
}

// Content is one submitted item and its processing state.
type Content struct {
	ID              string        `json:"id"`
	OwnerAccountID  string        `json:"ownerAccountId,omitempty"`
	URL             string        `json:"url"`
	Type            ContentType   `json:"type"`
	Title           string        `json:"title,omitempty"`
	RawText         string        `json:"-"`
	TranscriptID    string        `json:"-"`
	Status          ContentStatus `json:"status"`
	ErrorCode       ErrorCode     `json:"errorCode,omitempty"`
	DurationSeconds int           `json:"durationSeconds,omitempty"`
	SpeakerCount    int           `json:"speakerCount,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// FlagSource identifies which detector produced a moderation flag.
type FlagSource string

const (
	SourceURLScreening     FlagSource = "url_screening"
	SourceKeywordScreening FlagSource = "keyword_screening"
	SourceAIRefusal        FlagSource = "ai_refusal"
)

type FlagSeverity string

const (
	SeverityCritical FlagSeverity = "critical"
	SeverityHigh     FlagSeverity = "high"
	SeverityMedium   FlagSeverity = "medium"
)

// Blocking reports whether a flag of this severity halts the pipeline.
func (s FlagSeverity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

type FlagCategory string

const (
	CategoryCSAM        FlagCategory = "csam"
	CategoryTerrorism   FlagCategory = "terrorism"
	CategoryWeapons     FlagCategory = "weapons"
	CategoryTrafficking FlagCategory = "trafficking"
)

type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewReviewed  ReviewStatus = "reviewed"
	ReviewReported  ReviewStatus = "reported"
	ReviewDismissed ReviewStatus = "dismissed"
)

// ModerationFlag records one detector match against a URL or text.
// ContentID is empty when URL screening fires before a content row exists.
type ModerationFlag struct {
	ID           string         `json:"id"`
	ContentID    string         `json:"contentId,omitempty"`
	Source       FlagSource     `json:"source"`
	Severity     FlagSeverity   `json:"severity"`
	Categories   []FlagCategory `json:"categories"`
	Reason       string         `json:"reason"`
	ContentHash  string         `json:"contentHash"`
	TextPreview  string         `json:"textPreview,omitempty"`
	ReviewStatus ReviewStatus   `json:"reviewStatus"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Usage counter field names.
const (
	FieldAnalyses = "analyses_count"
	FieldExports  = "exports_count"
)

// UsageCounter is one (account, period, field) tuple. Period is a UTC
// calendar-month key like "2026-08". Counts never decrease within a period.
type UsageCounter struct {
	AccountID string `json:"accountId"`
	Period    string `json:"period"`
	Field     string `json:"field"`
	Count     int    `json:"count"`
}

// TierProfile maps an account tier to its numeric limits. A limit of zero
// means the feature is not available on the tier.
type TierProfile struct {
	Name            string `json:"name"`
	MonthlyAnalyses int    `json:"monthlyAnalyses"`
	MonthlyExports  int    `json:"monthlyExports"`
	BatchLimit      int    `json:"batchLimit"`
}

// LimitFor returns the tier limit for a usage counter field.
func (t TierProfile) LimitFor(field string) int {
	switch field {
	case FieldAnalyses:
		return t.MonthlyAnalyses
	case FieldExports:
		return t.MonthlyExports
	default:
		return 0
	}
}

type SummaryStatus string

const (
	SummaryComplete SummaryStatus = "complete"
	SummaryError    SummaryStatus = "error"
)

// Summary is the terminal analysis record for a content row in one language.
// Error markers land here so the UI can tell vendor failures apart from
// dispatch failures.
type Summary struct {
	ContentID   string        `json:"contentId"`
	Language    string        `json:"language"`
	SummaryText string        `json:"summaryText"`
	Status      SummaryStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
