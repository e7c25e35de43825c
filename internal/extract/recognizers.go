package extract

import (
	"regexp"
	"strings"
)

// EntityKind identifies the recognizer that produced a match.
type EntityKind string

const (
	EntityEmail        EntityKind = "email"
	EntityPhone        EntityKind = "phone"
	EntityDate         EntityKind = "date"
	EntityMoney        EntityKind = "monetary_amount"
	EntityGovernmentID EntityKind = "government_id"
	EntityAddress      EntityKind = "postal_address"
	EntityName         EntityKind = "personal_name"
)

// Match is a single recognizer hit with its span in the source text.
type Match struct {
	Kind       EntityKind
	Value      string
	Start      int
	End        int
	Confidence float64
	Labeled    bool
}

// Len returns the span length, used for overlap tie-breaks.
func (m Match) Len() int {
	return m.End - m.Start
}

type recognizer struct {
	kind       EntityKind
	patterns   []*regexp.Regexp
	labels     *regexp.Regexp
	confidence float64
}

const labeledBoost = 0.2

// labelWindow is how far back from a match a label keyword still anchors it.
const labelWindow = 24

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	phonePattern = regexp.MustCompile(`\+?\d{0,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)

	numericDatePattern = regexp.MustCompile(`\b\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}\b`)
	isoDatePattern     = regexp.MustCompile(`\b\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2}\b`)
	dayFirstPattern    = regexp.MustCompile(`\b\d{1,2}\s+(?i:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{4}\b`)
	monthFirstPattern  = regexp.MustCompile(`\b(?i:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`)

	symbolMoneyPattern = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d{1,2})?`)
	codeMoneyPattern   = regexp.MustCompile(`\b\d[\d,]*(?:\.\d{1,2})?\s?(?:USD|EUR|GBP|CAD|AUD)\b`)

	ssnPattern      = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	passportPattern = regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`)

	addressPattern = regexp.MustCompile(`\b\d{1,5}\s+[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)?\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Terrace)\b\.?`)

	honorificNamePattern = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,2}\b`)
	capitalNamePattern   = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)
)

// battery returns the recognizer set in its fixed execution order. The
// order is part of the determinism contract and must not depend on map
// iteration or configuration.
func battery() []recognizer {
	return []recognizer{
		{
			kind:       EntityEmail,
			patterns:   []*regexp.Regexp{emailPattern},
			labels:     regexp.MustCompile(`(?i)e[-_\s]?mail`),
			confidence: 0.95,
		},
		{
			kind:       EntityPhone,
			patterns:   []*regexp.Regexp{phonePattern},
			labels:     regexp.MustCompile(`(?i)phone|mobile|cell|tel(?:ephone)?|fax`),
			confidence: 0.8,
		},
		{
			kind:       EntityDate,
			patterns:   []*regexp.Regexp{isoDatePattern, numericDatePattern, dayFirstPattern, monthFirstPattern},
			labels:     regexp.MustCompile(`(?i)date|dob|birth|issued|expir`),
			confidence: 0.85,
		},
		{
			kind:       EntityMoney,
			patterns:   []*regexp.Regexp{symbolMoneyPattern, codeMoneyPattern},
			labels:     regexp.MustCompile(`(?i)amount|total|salary|income|price|balance|fee`),
			confidence: 0.85,
		},
		{
			kind:       EntityGovernmentID,
			patterns:   []*regexp.Regexp{ssnPattern, passportPattern},
			labels:     regexp.MustCompile(`(?i)ssn|social\s+security|passport|national\s+id|license|taxpayer|tin\b`),
			confidence: 0.9,
		},
		{
			kind:       EntityAddress,
			patterns:   []*regexp.Regexp{addressPattern},
			labels:     regexp.MustCompile(`(?i)address|street|residence`),
			confidence: 0.7,
		},
		{
			kind:       EntityName,
			patterns:   []*regexp.Regexp{honorificNamePattern, capitalNamePattern},
			labels:     regexp.MustCompile(`(?i)name|applicant|holder|signed|patient|employee`),
			confidence: 0.6,
		},
	}
}

func (r recognizer) recognize(text string) []Match {
	var matches []Match
	seen := make(map[[2]int]bool)
	for _, pattern := range r.patterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			span := [2]int{loc[0], loc[1]}
			if seen[span] {
				continue
			}
			seen[span] = true
			labeled := r.anchored(text, loc[0])
			confidence := r.confidence
			if labeled {
				confidence += labeledBoost
			}
			if confidence > 0.99 {
				confidence = 0.99
			}
			matches = append(matches, Match{
				Kind:       r.kind,
				Value:      strings.TrimSpace(text[loc[0]:loc[1]]),
				Start:      loc[0],
				End:        loc[1],
				Confidence: confidence,
				Labeled:    labeled,
			})
		}
	}
	return matches
}

// anchored reports whether a label keyword appears just before the match.
func (r recognizer) anchored(text string, start int) bool {
	if r.labels == nil {
		return false
	}
	from := start - labelWindow
	if from < 0 {
		from = 0
	}
	return r.labels.MatchString(text[from:start])
}
