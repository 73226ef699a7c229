package domain

import "strings"

// ErrorCode is the closed set of user-safe failure classifications. Raw
// vendor error text is mapped into exactly one code before it reaches a
// persisted record or API response; classification is the only layer that
// sees vendor text.
type ErrorCode string

const (
	ErrScrapeFailed           ErrorCode = "SCRAPE_FAILED"
	ErrTranscriptFailed       ErrorCode = "TRANSCRIPT_FAILED"
	ErrMetadataFailed         ErrorCode = "METADATA_FAILED"
	ErrTranscriptionFailed    ErrorCode = "TRANSCRIPTION_FAILED"
	ErrTranscriptionEmpty     ErrorCode = "TRANSCRIPTION_EMPTY"
	ErrOCRFailed              ErrorCode = "OCR_FAILED"
	ErrAIAnalysisFailed       ErrorCode = "AI_ANALYSIS_FAILED"
	ErrRateLimited            ErrorCode = "RATE_LIMITED"
	ErrContentUnavailable     ErrorCode = "CONTENT_UNAVAILABLE"
	ErrTimeout                ErrorCode = "TIMEOUT"
	ErrContentPolicyViolation ErrorCode = "CONTENT_POLICY_VIOLATION"
	ErrUnknown                ErrorCode = "UNKNOWN"
)

// Generic markers stored on the content text field in place of a transcript.
// Two distinct values so the UI can tell "vendor failed" from "vendor
// succeeded but the audio was unintelligible".
const (
	MarkerTranscriptionFailed = "[transcription failed]"
	MarkerTranscriptionEmpty  = "[no usable transcript]"
)

type classifierRule struct {
	substrings []string
	code       ErrorCode
}

// Ordered: first match wins. "transcription" must precede "transcript".
var classifierRules = []classifierRule{
	{[]string{"rate limit", "too many requests", "429"}, ErrRateLimited},
	{[]string{"timeout", "timed out", "deadline exceeded"}, ErrTimeout},
	{[]string{"unavailable", "not available", "removed", "private video", "404"}, ErrContentUnavailable},
	{[]string{"policy", "refused", "refusal"}, ErrContentPolicyViolation},
	{[]string{"transcription"}, ErrTranscriptionFailed},
	{[]string{"transcript"}, ErrTranscriptFailed},
	{[]string{"ocr"}, ErrOCRFailed},
	{[]string{"scrape", "fetch", "download"}, ErrScrapeFailed},
	{[]string{"metadata"}, ErrMetadataFailed},
	{[]string{"analysis", "analyz"}, ErrAIAnalysisFailed},
}

// Classify maps a raw vendor/internal error string to an ErrorCode by
// case-insensitive substring inspection.
func Classify(raw string) ErrorCode {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return ErrUnknown
	}
	for _, rule := range classifierRules {
		for _, sub := range rule.substrings {
			if strings.Contains(lowered, sub) {
				return rule.code
			}
		}
	}
	return ErrUnknown
}

var userMessages = map[ErrorCode]string{
	ErrScrapeFailed:           "We could not fetch this page. Please check the link and try again.",
	ErrTranscriptFailed:       "We could not load a transcript for this content.",
	ErrMetadataFailed:         "We could not read this content's details.",
	ErrTranscriptionFailed:    "Transcription failed for this content. Please try again later.",
	ErrTranscriptionEmpty:     "The audio was transcribed but no usable speech was found.",
	ErrOCRFailed:              "We could not extract text from this document.",
	ErrAIAnalysisFailed:       "Transcription succeeded but analysis failed to start. Please retry from your library.",
	ErrRateLimited:            "Too many requests right now. Please try again in a few minutes.",
	ErrContentUnavailable:     "This content is no longer available at its source.",
	ErrTimeout:                "Processing took too long and was stopped. Please try again.",
	ErrContentPolicyViolation: "This content could not be processed.",
	ErrUnknown:                "Something went wrong while processing this content.",
}

// UserMessage returns the user-safe message for a code.
func (c ErrorCode) UserMessage() string {
	if msg, ok := userMessages[c]; ok {
		return msg
	}
	return userMessages[ErrUnknown]
}
