// Package classify turns raw inbound text into a Classification: a pure,
// deterministic function free of I/O. Keyword tables are supplied by the
// caller (loaded from config, not compiled in) so vocabularies can be
// localized without a rebuild.
package classify

import (
	"strings"
	"unicode"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// priority breaks ties among secondary-classification groups: greeting
// outranks farewell, which outranks help, which outranks question.
var priority = []domain.Kind{domain.KindGreeting, domain.KindFarewell, domain.KindHelp, domain.KindQuestion}

// Classify applies the command/greeting/farewell/help/question/contextual
// rules in order and returns the resulting Classification.
func Classify(text string, kw config.ClassifierKeywords, commandPrefixes []string) domain.Classification {
	trimmed := strings.TrimSpace(text)
	normalized := normalize(trimmed)

	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(trimmed, prefix) && len(strings.TrimSpace(trimmed[len(prefix):])) > 0 {
			return domain.Classification{
				Primary:    domain.KindCommand,
				Confidence: 0.95,
				Secondary:  map[domain.Kind]struct{}{},
				Sentiment:  sentimentOf(normalized, kw),
			}
		}
	}

	tokens := tokenize(normalized)
	groups := map[domain.Kind]int{
		domain.KindGreeting: countMatches(normalized, tokens, kw.Greetings),
		domain.KindFarewell: countMatches(normalized, tokens, kw.Farewells),
		domain.KindHelp:     countMatches(normalized, tokens, kw.Help),
		domain.KindQuestion: countMatches(normalized, tokens, kw.Questions),
	}

	secondary := map[domain.Kind]struct{}{}
	best := domain.KindUnknown
	bestCount := 0
	for _, kind := range priority {
		count := groups[kind]
		if count == 0 {
			continue
		}
		secondary[kind] = struct{}{}
		if count > bestCount {
			bestCount = count
			best = kind
		}
	}

	if best == domain.KindUnknown {
		if countMatches(normalized, tokens, kw.Contextual) > 0 {
			best = domain.KindContextual
		}
	}

	confidence := 0.0
	if best != domain.KindUnknown && len(tokens) > 0 {
		confidence = float64(bestCount) / float64(len(tokens))
		if confidence < 0.5 {
			confidence = 0.5
		}
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	return domain.Classification{
		Primary:    best,
		Confidence: confidence,
		Secondary:  secondary,
		Sentiment:  sentimentOf(normalized, kw),
	}
}

func sentimentOf(normalized string, kw config.ClassifierKeywords) domain.Sentiment {
	pos := countOccurrences(normalized, kw.Positive)
	neg := countOccurrences(normalized, kw.Negative)
	switch {
	case pos > neg:
		return domain.SentimentPositive
	case neg > pos:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// countMatches counts keyword hits either as substrings (for multi-word or
// punctuation keywords like "?" / "¿") or as whole-token matches.
func countMatches(normalized string, tokens []string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		nkw := normalize(kw)
		if nkw == "" {
			continue
		}
		if strings.ContainsAny(nkw, " ?¿") || !isASCIIWord(nkw) {
			if strings.Contains(normalized, nkw) {
				count++
			}
			continue
		}
		for _, tok := range tokens {
			if tok == nkw {
				count++
				break
			}
		}
	}
	return count
}

func countOccurrences(normalized string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		nkw := normalize(kw)
		if nkw == "" {
			continue
		}
		count += strings.Count(normalized, nkw)
	}
	return count
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func tokenize(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize lowercases and strips diacritics so "¿Cómo estás?" and "como
// estas" match the same keyword table entries.
func normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(stripDiacritic(r))
	}
	return b.String()
}

var diacriticMap = map[rune]rune{
	'á': 'a', 'à': 'a', 'ä': 'a', 'â': 'a',
	'é': 'e', 'è': 'e', 'ë': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i', 'ï': 'i', 'î': 'i',
	'ó': 'o', 'ò': 'o', 'ö': 'o', 'ô': 'o',
	'ú': 'u', 'ù': 'u', 'ü': 'u', 'û': 'u',
	'ñ': 'n',
}

func stripDiacritic(r rune) rune {
	if replacement, ok := diacriticMap[r]; ok {
		return replacement
	}
	return r
}
