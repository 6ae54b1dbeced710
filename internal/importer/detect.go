package importer

// detect.go classifies upload rows against a snapshot of the stored roster.
//
// Candidates are pre-filtered by normalized class key before any name
// comparison, so the cost is rows x candidates-per-class instead of a full
// cross product. Similarity is the Levenshtein ratio over normalized names:
// 1 - distance/maxLen, the same measure the surrounding application has
// always used for near-duplicate names, with the ambiguity band starting at
// the configured threshold and excluding exact matches.

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/rosterflow/rosterflow/internal/roster"
	"github.com/rosterflow/rosterflow/internal/textnorm"
)

// DefaultSimilarityThreshold is the minimum Levenshtein ratio for a
// candidate to be reported as ambiguous.
const DefaultSimilarityThreshold = 0.70

// secondaryFields are the identity fields compared once normalized names
// already match. A disagreement here turns an exact name match into a
// conflict.
var secondaryFields = []TargetField{FieldRegistration, FieldBirthdate}

// Detect classifies every row against the snapshot. It is a pure read: the
// snapshot is never mutated, output order follows row order, and candidate
// ordering is deterministic (score descending, record id ascending), so the
// same inputs always produce the same result.
func Detect(rows []Row, snapshot map[string][]roster.Record, threshold float64) []ConflictEntry {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}

	entries := make([]ConflictEntry, 0, len(rows))
	for i, row := range rows {
		entry := classifyRow(row, snapshot[classKeyOf(row)], threshold)
		entry.RowIndex = i
		entry.Line = row.Line()
		entries = append(entries, entry)
	}
	return entries
}

func classifyRow(row Row, candidates []roster.Record, threshold float64) ConflictEntry {
	normName := textnorm.Normalize(row.Field(FieldName))

	var exact []roster.Record
	for _, cand := range candidates {
		if cand.NormName == normName {
			exact = append(exact, cand)
		}
	}

	if len(exact) > 0 {
		return classifyExact(row, exact)
	}

	var similar []Candidate
	for _, cand := range candidates {
		score := similarity(normName, cand.NormName)
		if score >= threshold && score < 1.0 {
			similar = append(similar, Candidate{
				RecordID: cand.ID,
				Name:     cand.Name,
				Score:    score,
			})
		}
	}
	if len(similar) > 0 {
		rankCandidates(similar)
		return ConflictEntry{Classification: ClassAmbiguous, Candidates: similar}
	}

	return ConflictEntry{Classification: ClassNew}
}

// classifyExact resolves rows whose normalized name matches one or more
// stored records in the same class. A single candidate agreeing on every
// secondary identity field is an exact match; anything else is a conflict
// listing what differs per candidate.
func classifyExact(row Row, exact []roster.Record) ConflictEntry {
	candidates := make([]Candidate, 0, len(exact))
	clean := true

	for _, cand := range exact {
		diff := diffSecondary(row, cand)
		if len(diff) > 0 {
			clean = false
		}
		candidates = append(candidates, Candidate{
			RecordID: cand.ID,
			Name:     cand.Name,
			Score:    1.0,
			Diff:     diff,
		})
	}
	rankCandidates(candidates)

	if clean && len(candidates) == 1 {
		return ConflictEntry{Classification: ClassExactMatch, Candidates: candidates}
	}
	return ConflictEntry{Classification: ClassConflict, Candidates: candidates}
}

// diffSecondary lists the secondary fields where the row and the record both
// have a value and disagree. Absent values never count as a difference.
func diffSecondary(row Row, rec roster.Record) []TargetField {
	var diff []TargetField
	for _, field := range secondaryFields {
		rowVal := textnorm.Normalize(row.Field(field))
		recVal := textnorm.Normalize(recordField(rec, field))
		if rowVal != "" && recVal != "" && rowVal != recVal {
			diff = append(diff, field)
		}
	}
	return diff
}

func recordField(rec roster.Record, field TargetField) string {
	switch field {
	case FieldRegistration:
		return rec.Registration
	case FieldBirthdate:
		return rec.Birthdate
	case FieldEmail:
		return rec.Email
	default:
		return ""
	}
}

// similarity is the Levenshtein ratio of two already-normalized strings.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// rankCandidates orders by score descending, breaking ties on record id
// ascending so test expectations are reproducible.
func rankCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].RecordID < cands[j].RecordID
	})
}

// classKeyOf returns the normalized class key of a row.
func classKeyOf(row Row) string {
	return textnorm.Key(row.Field(FieldClass))
}
