package registration

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Reason identifies why a candidate name failed validation.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonEmpty     Reason = "empty"
	ReasonAllDigits Reason = "all_digits"
	ReasonLength    Reason = "length"
	ReasonChars     Reason = "chars"
	ReasonIsPhone   Reason = "is_phone"
	ReasonForbidden Reason = "forbidden"
)

var forbiddenSubstrings = []string{"bot", "admin", "sistema", "test", "usuario", "client", "customer"}

var allowedNameChars = regexp.MustCompile(`^[\p{L}\s'-]+$`)
var allDigits = regexp.MustCompile(`^\d+$`)
var digitRun = regexp.MustCompile(`\d+`)

// CleanName trims surrounding whitespace and collapses internal runs of
// whitespace to a single space.
func CleanName(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// ValidateName applies the name-capture rules in order, first failure wins.
// It cleans s itself, so ValidateName(CleanName(s), ...) and
// ValidateName(s, ...) always agree.
func ValidateName(s, phone string, minLen, maxLen int) Reason {
	name := CleanName(s)

	if name == "" {
		return ReasonEmpty
	}
	if allDigits.MatchString(strings.ReplaceAll(name, " ", "")) {
		return ReasonAllDigits
	}
	if runeLen := utf8.RuneCountInString(name); runeLen < minLen || runeLen > maxLen {
		return ReasonLength
	}
	if !allowedNameChars.MatchString(name) {
		return ReasonChars
	}
	if isPhoneLike(name, phone) {
		return ReasonIsPhone
	}
	lower := strings.ToLower(name)
	for _, forbidden := range forbiddenSubstrings {
		if strings.Contains(lower, forbidden) {
			return ReasonForbidden
		}
	}
	return ReasonNone
}

func isPhoneLike(name, phone string) bool {
	if phone == "" {
		return false
	}
	if name == phone {
		return true
	}
	for _, run := range digitRun.FindAllString(name, -1) {
		if len(run) >= 6 && strings.Contains(phone, run) {
			return true
		}
	}
	return false
}

// FallbackName builds the deterministic temp name assigned after
// max-attempts exhaustion or timeout: Usuario_XXXX from the last 4 phone digits.
func FallbackName(phone string) string {
	digits := digitRun.FindAllString(phone, -1)
	joined := strings.Join(digits, "")
	if len(joined) < 4 {
		return "Usuario_0000"
	}
	return "Usuario_" + joined[len(joined)-4:]
}
