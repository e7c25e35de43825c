// Package extract turns raw document text into a flat field map and
// typed entity lists using a fixed battery of pattern recognizers.
package extract

import (
	"regexp"
	"sort"

	"github.com/thoas/go-funk"
)

// Entities groups recognized values by kind, deduplicated and in order
// of first appearance.
type Entities map[EntityKind][]string

// Result is the outcome of one extraction run over a document's text.
type Result struct {
	Fields     []Field  `json:"fields"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// Extractor runs the recognizer battery. The zero-match discount
// controls how strongly recognizers that found nothing pull the
// aggregate confidence down.
type Extractor struct {
	recognizers       []recognizer
	zeroMatchDiscount float64
}

func NewExtractor(zeroMatchDiscount float64) *Extractor {
	return &Extractor{
		recognizers:       battery(),
		zeroMatchDiscount: zeroMatchDiscount,
	}
}

// Extract runs every recognizer over the text in fixed order, resolves
// overlapping spans, and aggregates the document confidence from the
// given base. The base is the OCR engine confidence for scanned
// documents or a fixed constant for text-native ones.
func (e *Extractor) Extract(text string, baseConfidence float64) *Result {
	var all []Match
	zeroMatch := 0
	for _, r := range e.recognizers {
		matches := r.recognize(text)
		if r.kind == EntityName {
			matches = funk.Filter(matches, plausibleName).([]Match)
		}
		if len(matches) == 0 {
			zeroMatch++
			continue
		}
		all = append(all, matches...)
	}
	resolved := resolveOverlaps(all)

	entities := make(Entities)
	for _, m := range resolved {
		entities[m.Kind] = append(entities[m.Kind], m.Value)
	}
	for kind, values := range entities {
		entities[kind] = funk.UniqString(values)
	}

	return &Result{
		Fields:     parseFields(text),
		Entities:   entities,
		Confidence: e.aggregateConfidence(baseConfidence, zeroMatch),
	}
}

// aggregateConfidence discounts the base confidence by the fraction of
// recognizers that yielded no matches. The discount slope is a policy
// parameter, not a fixed law.
func (e *Extractor) aggregateConfidence(base float64, zeroMatch int) float64 {
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	zeroFraction := float64(zeroMatch) / float64(len(e.recognizers))
	return base * (1 - e.zeroMatchDiscount*zeroFraction)
}

// resolveOverlaps drops matches whose span collides with a better one.
// A label-anchored match beats an unanchored one; otherwise the longer
// match wins; otherwise battery order decides. Matches arrive in
// battery order, so the sort below is stable with respect to it.
func resolveOverlaps(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})

	var kept []Match
	for _, m := range matches {
		conflict := -1
		for i := len(kept) - 1; i >= 0; i-- {
			if kept[i].End > m.Start {
				conflict = i
				break
			}
		}
		if conflict < 0 {
			kept = append(kept, m)
			continue
		}
		if beats(m, kept[conflict]) {
			kept[conflict] = m
		}
	}
	return kept
}

func beats(candidate, incumbent Match) bool {
	if candidate.Labeled != incumbent.Labeled {
		return candidate.Labeled
	}
	return candidate.Len() > incumbent.Len()
}

var honorificPrefix = regexp.MustCompile(`^(?:Mr|Mrs|Ms|Dr|Prof)\.?\s`)

// plausibleName filters the noisy capitalized-words pattern: a bare
// pair of capitalized words only counts as a personal name when a
// label keyword or an honorific anchors it.
func plausibleName(m Match) bool {
	return m.Labeled || honorificPrefix.MatchString(m.Value)
}
