package importer

// commit.go applies a resolved session to the roster as one atomic unit.
// Either every row's effect lands or none do; this is the only step with
// externally visible side effects, so there is no automatic retry. A
// persistence failure rolls everything back and marks the session failed
// with the reason in its error log.

import (
	"context"
	"time"

	"github.com/rosterflow/rosterflow/internal/roster"
)

// commitSession runs every resolved row inside a single roster transaction.
// The caller holds the session lock via Store.Transition, so eviction and
// concurrent steps cannot interleave with the write.
func commitSession(ctx context.Context, sess *ImportSession, r roster.Roster) (CommitResult, error) {
	start := time.Now()
	var result CommitResult

	err := r.WithTx(ctx, func(tx roster.Tx) error {
		for i, row := range sess.Rows {
			res := resolutionFor(sess, i)
			switch res.Action {
			case ResolutionSkip:
				result.Skipped++
			case ResolutionMergeWith:
				if err := tx.Update(ctx, res.ExistingID, mappedFields(sess.Mapping, row)); err != nil {
					return err
				}
				result.Updated++
			default: // ResolutionCreateNew
				if _, err := tx.Insert(ctx, mappedFields(sess.Mapping, row)); err != nil {
					return err
				}
				result.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, &CommitError{Err: err}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// resolutionFor returns the client's decision for a row, defaulting rows
// classified new to create_new.
func resolutionFor(sess *ImportSession, rowIndex int) Resolution {
	if res, ok := sess.Resolutions[rowIndex]; ok {
		return res
	}
	return Resolution{Action: ResolutionCreateNew}
}

// mappedFields converts a row to a roster field map carrying only the fields
// present in the session's mapping, so merges never clobber unmapped data.
func mappedFields(m Mapping, row Row) roster.FieldMap {
	fields := make(roster.FieldMap, len(m))
	for _, field := range m {
		fields[string(field)] = row.Field(field)
	}
	return fields
}

// validateResolutions checks that every non-new conflict entry carries a
// usable decision before the session may advance to resolved.
func validateResolutions(sess *ImportSession, resolutions map[int]Resolution) error {
	for rowIndex, res := range resolutions {
		if rowIndex < 0 || rowIndex >= len(sess.Rows) {
			return &ResolutionError{RowIndex: rowIndex, Message: "row does not exist"}
		}
		switch res.Action {
		case ResolutionCreateNew, ResolutionSkip:
		case ResolutionMergeWith:
			if res.ExistingID == "" {
				return &ResolutionError{RowIndex: rowIndex, Message: "merge_with requires an existing record id"}
			}
			if !candidateOf(sess, rowIndex, res.ExistingID) {
				return &ResolutionError{RowIndex: rowIndex, Message: "existing record is not a candidate for this row"}
			}
		default:
			return &ResolutionError{RowIndex: rowIndex, Message: "unknown resolution action"}
		}
	}

	for _, entry := range sess.Conflicts {
		if entry.Classification == ClassNew {
			continue
		}
		if _, ok := resolutions[entry.RowIndex]; !ok {
			return &ResolutionError{RowIndex: entry.RowIndex, Message: "no resolution supplied"}
		}
	}
	return nil
}

// candidateOf reports whether id was offered as a candidate for the row.
func candidateOf(sess *ImportSession, rowIndex int, id string) bool {
	for _, entry := range sess.Conflicts {
		if entry.RowIndex != rowIndex {
			continue
		}
		for _, cand := range entry.Candidates {
			if cand.RecordID == id {
				return true
			}
		}
	}
	return false
}
