package moderation

import (
	"encoding/json"
	"strings"

	"digestly/pkg/domain"
)

// RefusalSentinel prefixes plain-text analyzer responses that declined to
// process the content.
const RefusalSentinel = "[ANALYSIS_REFUSED]"

// Refusal is a structured refusal extracted from an analyzer response.
type Refusal struct {
	Reason string
}

// DetectRefusal inspects an analyzer response body for a refusal signal:
// either a JSON payload with a true "refused" field, or a text payload
// prefixed with the refusal sentinel.
func DetectRefusal(body []byte) (Refusal, bool) {
	var payload struct {
		Refused bool   `json:"refused"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if !payload.Refused {
			return Refusal{}, false
		}
		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			reason = strings.TrimSpace(payload.Message)
		}
		return Refusal{Reason: reason}, true
	}

	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, RefusalSentinel) {
		return Refusal{Reason: strings.TrimSpace(strings.TrimPrefix(text, RefusalSentinel))}, true
	}
	return Refusal{}, false
}

// categoryTerms maps refusal-reason keywords to flag categories.
var categoryTerms = []struct {
	term     string
	category domain.FlagCategory
}{
	{"child", domain.CategoryCSAM},
	{"minor", domain.CategoryCSAM},
	{"csam", domain.CategoryCSAM},
	{"weapon", domain.CategoryWeapons},
	{"firearm", domain.CategoryWeapons},
	{"explosive", domain.CategoryWeapons},
	{"traffick", domain.CategoryTrafficking},
	{"smuggl", domain.CategoryTrafficking},
	{"terror", domain.CategoryTerrorism},
	{"extremis", domain.CategoryTerrorism},
}

// InferCategories scans a refusal reason for category-indicative terms.
// When nothing matches it falls back to terrorism, keeping flag categories
// consistent with historical refusal records.
func InferCategories(reason string) []domain.FlagCategory {
	lowered := strings.ToLower(reason)
	var out []domain.FlagCategory
	seen := make(map[domain.FlagCategory]bool)
	for _, entry := range categoryTerms {
		if seen[entry.category] || !strings.Contains(lowered, entry.term) {
			continue
		}
		seen[entry.category] = true
		out = append(out, entry.category)
	}
	if len(out) == 0 {
		return []domain.FlagCategory{domain.CategoryTerrorism}
	}
	return out
}
