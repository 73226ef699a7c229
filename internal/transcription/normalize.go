package transcription

import (
	"math"
	"strings"

	"golang.org/x/net/html"
)

// MinTranscriptLen is the minimum usable transcript length in bytes. Vendor
// output shorter than this is treated as empty.
const MinTranscriptLen = 40

// StatusError is the vendor's failure status; anything else is success.
const StatusError = "error"

// Utterance is one speaker turn in the vendor payload.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Payload is the vendor webhook body. Only the fields this pipeline consumes
// are modeled; the vendor sends more.
type Payload struct {
	TranscriptID  string      `json:"transcript_id"`
	Status        string      `json:"status"`
	Text          string      `json:"text"`
	AudioDuration float64     `json:"audio_duration"`
	Utterances    []Utterance `json:"utterances"`
	Language      string      `json:"language_code"`
	Error         string      `json:"error"`
}

// Failed reports whether the vendor declared the job failed.
func (p Payload) Failed() bool {
	return strings.EqualFold(strings.TrimSpace(p.Status), StatusError)
}

// Transcript is the flat internal form: one text blob plus derived metrics.
type Transcript struct {
	Text            string
	DurationSeconds int
	SpeakerCount    int
}

// Usable reports whether the transcript carries enough text to analyze.
func (t Transcript) Usable() bool {
	return len(strings.TrimSpace(t.Text)) >= MinTranscriptLen
}

// Normalize flattens the vendor payload. Utterances win over the top-level
// text field when present, since they preserve speaker attribution. Vendor
// text occasionally carries markup fragments; those are stripped.
func Normalize(p Payload) Transcript {
	var text string
	speakers := make(map[string]bool)
	if len(p.Utterances) > 0 {
		parts := make([]string, 0, len(p.Utterances))
		for _, u := range p.Utterances {
			clean := stripMarkup(u.Text)
			if clean == "" {
				continue
			}
			parts = append(parts, clean)
			if s := strings.TrimSpace(u.Speaker); s != "" {
				speakers[s] = true
			}
		}
		text = strings.Join(parts, " ")
	} else {
		text = stripMarkup(p.Text)
	}

	return Transcript{
		Text:            text,
		DurationSeconds: int(math.Round(p.AudioDuration)),
		SpeakerCount:    len(speakers),
	}
}

// stripMarkup drops any HTML-ish tags and collapses whitespace. Plain text
// passes through untouched apart from whitespace normalization.
func stripMarkup(text string) string {
	if !strings.ContainsRune(text, '<') {
		return collapse(text)
	}
	var buf strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(text))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			buf.WriteString(tokenizer.Token().Data)
			buf.WriteString(" ")
		}
	}
	return collapse(buf.String())
}

func collapse(text string) string {
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}
