package moderation

import (
	"regexp"
	"strings"

	"digestly/pkg/domain"
)

// maxScanBytes bounds keyword screening to the head of the text so
// pathological inputs cannot blow up scan cost.
const maxScanBytes = 50 * 1024

// maxTermGap is the co-occurrence window in bytes. Two terms further apart
// than this are treated as unrelated mentions.
const maxTermGap = 200

// detection is a detector match before it is enriched into a persisted flag.
type detection struct {
	source     domain.FlagSource
	severity   domain.FlagSeverity
	categories []domain.FlagCategory
	reason     string
}

type urlRule struct {
	pattern    *regexp.Regexp
	categories []domain.FlagCategory
	reason     string
}

// urlRules match hostnames associated with known illegal-content
// distribution channels. All URL matches are critical.
var urlRules = []urlRule{
	{
		pattern:    regexp.MustCompile(`(?i)\.onion(\.[a-z]{2,6})?(/|$)`),
		categories: []domain.FlagCategory{domain.CategoryCSAM, domain.CategoryTrafficking},
		reason:     "hidden-service address",
	},
	{
		pattern:    regexp.MustCompile(`(?i)//[a-z0-9.-]*onion\.(ws|pet|ly|to)(/|$)`),
		categories: []domain.FlagCategory{domain.CategoryCSAM, domain.CategoryTrafficking},
		reason:     "onion gateway proxy",
	},
	{
		pattern:    regexp.MustCompile(`(?i)//[a-z0-9.-]*darkweb(market|mirror)[a-z0-9.-]*\.`),
		categories: []domain.FlagCategory{domain.CategoryTrafficking, domain.CategoryWeapons},
		reason:     "dark-web market mirror",
	},
}

// cooccurrenceRule fires when a term from the first list appears within
// maxTermGap bytes of a term from the second list. Pairing terms instead of
// matching single keywords keeps news and educational text from tripping
// flags.
type cooccurrenceRule struct {
	category   domain.FlagCategory
	severity   domain.FlagSeverity
	firstTerms []string
	otherTerms []string
	reason     string
}

var cooccurrenceRules = []cooccurrenceRule{
	{
		category:   domain.CategoryCSAM,
		severity:   domain.SeverityCritical,
		firstTerms: []string{"child", "minor", "underage", "preteen"},
		otherTerms: []string{"exploitation", "abuse material", "abuse imagery", "explicit material"},
		reason:     "age indicator near exploitation term",
	},
	{
		category:   domain.CategoryTrafficking,
		severity:   domain.SeverityCritical,
		firstTerms: []string{"human", "child", "organ"},
		otherTerms: []string{"trafficking", "smuggling network"},
		reason:     "trafficking term pair",
	},
	{
		category:   domain.CategoryWeapons,
		severity:   domain.SeverityHigh,
		firstTerms: []string{"untraceable", "ghost", "3d printed", "serial number removed"},
		otherTerms: []string{"firearm", "gun", "weapon", "rifle"},
		reason:     "illicit weapons term pair",
	},
	{
		category:   domain.CategoryWeapons,
		severity:   domain.SeverityHigh,
		firstTerms: []string{"buy", "sell", "purchase"},
		otherTerms: []string{"explosives", "grenade", "detonator"},
		reason:     "explosives trade term pair",
	},
	{
		category:   domain.CategoryTerrorism,
		severity:   domain.SeverityHigh,
		firstTerms: []string{"bomb", "explosive device", "incendiary"},
		otherTerms: []string{"instructions", "assembly", "how to build", "manufacture"},
		reason:     "attack preparation term pair",
	},
	{
		category:   domain.CategoryTerrorism,
		severity:   domain.SeverityHigh,
		firstTerms: []string{"terror cell", "martyrdom", "jihadist"},
		otherTerms: []string{"recruit", "attack", "operation"},
		reason:     "extremist recruitment term pair",
	},
}

// MatchURL runs the URL detector table against the bare URL. Pure function
// of its input.
func MatchURL(url string) []detection {
	var out []detection
	for _, rule := range urlRules {
		if !rule.pattern.MatchString(url) {
			continue
		}
		out = append(out, detection{
			source:     domain.SourceURLScreening,
			severity:   domain.SeverityCritical,
			categories: rule.categories,
			reason:     rule.reason,
		})
	}
	return out
}

// MatchText runs the co-occurrence detector table against scraped text.
// Only the first maxScanBytes are inspected, and each category fires at most
// once per call. Pure function of its input.
func MatchText(text string) []detection {
	if len(text) > maxScanBytes {
		text = text[:maxScanBytes]
	}
	lowered := strings.ToLower(text)

	var out []detection
	seen := make(map[domain.FlagCategory]bool)
	for _, rule := range cooccurrenceRules {
		if seen[rule.category] {
			continue
		}
		if !termsNear(lowered, rule.firstTerms, rule.otherTerms) {
			continue
		}
		seen[rule.category] = true
		out = append(out, detection{
			source:     domain.SourceKeywordScreening,
			severity:   rule.severity,
			categories: []domain.FlagCategory{rule.category},
			reason:     rule.reason,
		})
	}
	return out
}

// termsNear reports whether any term from the first list occurs within
// maxTermGap bytes of any term from the second list.
func termsNear(lowered string, firstTerms, otherTerms []string) bool {
	for _, first := range firstTerms {
		for from := 0; ; {
			rel := strings.Index(lowered[from:], first)
			if rel < 0 {
				break
			}
			at := from + rel
			lo := at - maxTermGap
			if lo < 0 {
				lo = 0
			}
			hi := at + len(first) + maxTermGap
			if hi > len(lowered) {
				hi = len(lowered)
			}
			window := lowered[lo:hi]
			for _, other := range otherTerms {
				if strings.Contains(window, other) {
					return true
				}
			}
			from = at + len(first)
		}
	}
	return false
}
