// Package entities extracts named entities and their relationships from
// document text using gazetteers and regular expressions. No model calls,
// so it runs on every document at full batch throughput.
package entities

import (
	"sort"
	"strings"
	"unicode"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Config tunes extraction.
type Config struct {
	// ConfidenceThreshold drops entities and relationships scored below it.
	ConfidenceThreshold float64
	// CooccurrenceWindow is the maximum distance in bytes between two
	// entity spans for a relationship to be proposed.
	CooccurrenceWindow int
}

// Extractor implements pipeline.EntityExtractor.
type Extractor struct {
	threshold float64
	window    int
}

// New builds an Extractor. Zero config falls back to threshold 0.7 and a
// 300-byte co-occurrence window.
func New(cfg Config) *Extractor {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	window := cfg.CooccurrenceWindow
	if window <= 0 {
		window = 300
	}
	return &Extractor{threshold: threshold, window: window}
}

// ExtractEntities finds entities in text, filters low-confidence hits, and
// resolves overlapping same-type spans in favor of the higher confidence.
func (e *Extractor) ExtractEntities(text string) []pipeline.Entity {
	var found []pipeline.Entity

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			found = append(found, pipeline.Entity{
				Text:       strings.TrimSpace(text[loc[0]:loc[1]]),
				Type:       p.entityType,
				Confidence: p.confidence,
				Span:       pipeline.Span{Start: loc[0], End: loc[1]},
			})
		}
	}

	found = append(found, gazetteerHits(text, agencyGazetteer, TypeAgency, 0.95)...)
	found = append(found, gazetteerHits(text, locationGazetteer, TypeLocation, 0.9)...)

	var kept []pipeline.Entity
	for _, ent := range found {
		if ent.Confidence >= e.threshold {
			kept = append(kept, ent)
		}
	}
	return dedupeOverlaps(kept)
}

// gazetteerHits scans lowercased text for each gazetteer term at word
// boundaries and emits entities with the canonical surface form.
func gazetteerHits(text string, gazetteer map[string]string, entityType string, confidence float64) []pipeline.Entity {
	lower := strings.ToLower(text)
	var hits []pipeline.Entity
	for term, canonical := range gazetteer {
		offset := 0
		for {
			idx := strings.Index(lower[offset:], term)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(term)
			if wordBounded(lower, start, end) {
				hits = append(hits, pipeline.Entity{
					Text:       canonical,
					Type:       entityType,
					Confidence: confidence,
					Span:       pipeline.Span{Start: start, End: end},
				})
			}
			offset = end
		}
	}
	return hits
}

func wordBounded(s string, start, end int) bool {
	if start > 0 {
		r := rune(s[start-1])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r := rune(s[end])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// dedupeOverlaps drops same-type entities whose spans overlap a
// higher-confidence hit. Sort by confidence desc so winners are kept first;
// ties break on longer spans.
func dedupeOverlaps(ents []pipeline.Entity) []pipeline.Entity {
	sort.Slice(ents, func(i, j int) bool {
		if ents[i].Confidence != ents[j].Confidence {
			return ents[i].Confidence > ents[j].Confidence
		}
		return spanLen(ents[i].Span) > spanLen(ents[j].Span)
	})

	var kept []pipeline.Entity
	for _, cand := range ents {
		overlapped := false
		for _, winner := range kept {
			if winner.Type == cand.Type && winner.Span.Overlaps(cand.Span) {
				overlapped = true
				break
			}
		}
		if !overlapped {
			kept = append(kept, cand)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Span.Start < kept[j].Span.Start })
	return kept
}

func spanLen(s pipeline.Span) int { return s.End - s.Start }

// FindRelationships proposes typed relations between entities that co-occur
// within the window. Confidence decays with span distance and is bounded by
// the weaker entity.
func (e *Extractor) FindRelationships(ents []pipeline.Entity, _ string) []pipeline.Relationship {
	var rels []pipeline.Relationship
	for i := 0; i < len(ents); i++ {
		for j := i + 1; j < len(ents); j++ {
			a, b := ents[i], ents[j]
			dist := spanDistance(a.Span, b.Span)
			if dist > e.window {
				continue
			}
			relType, ok := relate(a, b)
			if !ok {
				continue
			}
			conf := min(a.Confidence, b.Confidence) * (1 - 0.5*float64(dist)/float64(e.window))
			if conf < e.threshold {
				continue
			}
			rels = append(rels, pipeline.Relationship{
				EntityA:      a.Text,
				RelationType: relType,
				EntityB:      b.Text,
				Confidence:   conf,
			})
		}
	}
	return rels
}

// relate maps an entity type pair to a relation type. Pairs with no
// meaningful relation (dates, money) are skipped.
func relate(a, b pipeline.Entity) (string, bool) {
	switch {
	case pairIs(a, b, TypePerson, TypeBill):
		return RelSponsoredBy, true
	case a.Type == TypeCitation || b.Type == TypeCitation:
		if other(a, b, TypeCitation).Type == TypeDate || other(a, b, TypeCitation).Type == TypeMoney {
			return "", false
		}
		return RelReferences, true
	case pairIs(a, b, TypeAgency, TypeLocation), pairIs(a, b, TypeOrg, TypeLocation):
		return RelLocatedIn, true
	case pairIs(a, b, TypePerson, TypeAgency), pairIs(a, b, TypePerson, TypeOrg):
		return RelMentions, true
	case pairIs(a, b, TypeAgency, TypeBill), pairIs(a, b, TypeOrg, TypeBill):
		return RelReferences, true
	default:
		return "", false
	}
}

func pairIs(a, b pipeline.Entity, t1, t2 string) bool {
	return (a.Type == t1 && b.Type == t2) || (a.Type == t2 && b.Type == t1)
}

func other(a, b pipeline.Entity, t string) pipeline.Entity {
	if a.Type == t {
		return b
	}
	return a
}

func spanDistance(a, b pipeline.Span) int {
	if a.Overlaps(b) {
		return 0
	}
	if a.End <= b.Start {
		return b.Start - a.End
	}
	return a.Start - b.End
}

// Stats counts entities by type.
func Stats(ents []pipeline.Entity) map[string]int {
	out := make(map[string]int, 8)
	for _, e := range ents {
		out[e.Type]++
	}
	return out
}
