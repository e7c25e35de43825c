// Package pii labels extracted fields with the sensitivity tier that
// controls whether they are encrypted at rest.
package pii

import (
	"regexp"
	"strings"
	"unicode"
)

// Level is a sensitivity tier. Everything except PUBLIC is sealed
// before persistence.
type Level string

const (
	LevelPublic    Level = "PUBLIC"
	LevelSensitive Level = "SENSITIVE"
	LevelPII       Level = "PII"
	LevelPHI       Level = "PHI"
)

// RequiresSealing reports whether a field of this level must be
// encrypted before it is stored.
func (l Level) RequiresSealing() bool {
	return l != LevelPublic
}

// Key vocabularies, consulted in tier order. Single-token entries match
// a whole token of the key, multi-token entries match as a substring,
// so "first_name" is PII while "filename" is not.
var (
	phiKeyVocabulary = []string{
		"diagnosis", "medical", "prescription", "medication", "treatment",
		"condition", "blood", "allergy", "allergies", "patient",
		"health", "disability", "immunization",
	}
	piiKeyVocabulary = []string{
		"name", "surname", "email", "phone", "mobile", "telephone",
		"ssn", "social_security", "passport", "national_id",
		"driver_license", "license_number", "tax_id", "tin",
		"date_of_birth", "dob", "birth", "address", "nationality",
	}
	sensitiveKeyVocabulary = []string{
		"salary", "income", "wage", "compensation", "account",
		"iban", "routing", "bank", "religion", "ethnicity",
	}
	publicKeyVocabulary = []string{
		"document_type", "type", "kind", "format", "status", "category",
		"title", "filename", "page", "page_count", "language", "country",
		"currency_code", "version",
	}
)

var (
	emailShape    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	ssnShape      = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	passportShape = regexp.MustCompile(`^[A-Z]{1,2}\d{6,9}$`)
	separators    = regexp.MustCompile(`[-.\s()]`)
	digitsOnly    = regexp.MustCompile(`^\+?\d+$`)
)

// Classifier applies the tier rules. Rule order is fixed and the first
// match wins, so classification of a (key, value) pair is stable.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify resolves the tier of a single field. Key-name rules run
// first, value-shape rules only when the key is unrecognized, and the
// fallback for anything that still looks like free-form personal text
// is SENSITIVE, never PUBLIC.
func (c *Classifier) Classify(key, value string) Level {
	key = normalizeKey(key)

	switch {
	case keyMatches(key, phiKeyVocabulary):
		return LevelPHI
	case keyMatches(key, piiKeyVocabulary):
		return LevelPII
	case keyMatches(key, sensitiveKeyVocabulary):
		return LevelSensitive
	case keyMatches(key, publicKeyVocabulary):
		return LevelPublic
	}

	if level, ok := classifyByShape(value); ok {
		return level
	}

	if looksLikePersonalText(value) {
		return LevelSensitive
	}
	return LevelPublic
}

func classifyByShape(value string) (Level, bool) {
	value = strings.TrimSpace(value)
	switch {
	case emailShape.MatchString(value):
		return LevelPII, true
	case ssnShape.MatchString(value):
		return LevelPII, true
	case passportShape.MatchString(value):
		return LevelPII, true
	case isPhoneShaped(value):
		return LevelPII, true
	case isNationalIDShaped(value):
		return LevelPII, true
	}
	return LevelPublic, false
}

// isPhoneShaped accepts E.164-like numbers once separators are
// stripped.
func isPhoneShaped(value string) bool {
	stripped := separators.ReplaceAllString(value, "")
	if !digitsOnly.MatchString(stripped) {
		return false
	}
	digits := strings.TrimPrefix(stripped, "+")
	return len(digits) >= 10 && len(digits) <= 15
}

// isNationalIDShaped runs a Luhn check over long bare digit strings,
// which covers most card and national identifier formats.
func isNationalIDShaped(value string) bool {
	stripped := separators.ReplaceAllString(value, "")
	if len(stripped) < 13 || len(stripped) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(stripped) - 1; i >= 0; i-- {
		d := stripped[i]
		if d < '0' || d > '9' {
			return false
		}
		n := int(d - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// looksLikePersonalText is deliberately broad: letters present and a
// length within typical name or address bounds.
func looksLikePersonalText(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) < 2 || len(value) > 120 {
		return false
	}
	for _, r := range value {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func keyMatches(key string, vocabulary []string) bool {
	tokens := strings.Split(key, "_")
	for _, entry := range vocabulary {
		if strings.Contains(entry, "_") {
			if strings.Contains(key, entry) {
				return true
			}
			continue
		}
		for _, token := range tokens {
			if token == entry {
				return true
			}
		}
	}
	return false
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(key)
}
