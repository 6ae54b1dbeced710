// Package importer implements the multi-step roster import pipeline: CSV
// parsing, column mapping, conflict detection against stored records,
// conflict resolution and the final atomic commit. Sessions live in a Store
// and advance through a forward-only state machine; many sessions may run
// concurrently but each session's steps are strictly serialized.
package importer

import "time"

// State is the lifecycle stage of an import session.
type State string

const (
	StateUploaded          State = "uploaded"
	StateMapped            State = "mapped"
	StateConflictsDetected State = "conflicts_detected"
	StateResolved          State = "resolved"
	StateImported          State = "imported"
	StateFailed            State = "failed"
)

// nextState is the forward transition graph. StateFailed is reachable from
// any non-terminal state and has no successor.
var nextState = map[State]State{
	StateUploaded:          StateMapped,
	StateMapped:            StateConflictsDetected,
	StateConflictsDetected: StateResolved,
	StateResolved:          StateImported,
}

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateImported || s == StateFailed
}

// TargetField identifies a roster field a CSV column can map to.
type TargetField string

const (
	FieldName         TargetField = "name"
	FieldClass        TargetField = "class"
	FieldRegistration TargetField = "registration"
	FieldEmail        TargetField = "email"
	FieldBirthdate    TargetField = "birthdate"
	FieldCallNumber   TargetField = "call_number"
)

// targetFields is the closed set of mappable fields.
var targetFields = map[TargetField]bool{
	FieldName:         true,
	FieldClass:        true,
	FieldRegistration: true,
	FieldEmail:        true,
	FieldBirthdate:    true,
	FieldCallNumber:   true,
}

// requiredFields must all be mapped before rows can be materialized.
var requiredFields = []TargetField{FieldName, FieldClass, FieldRegistration}

// Mapping associates source CSV column headers with target fields.
type Mapping map[string]TargetField

// RawRow is one structurally valid CSV data line, untouched beyond cell
// cleanup.
type RawRow struct {
	Line  int
	Cells []string
}

// Row is a mapped, validated upload row. It is immutable once built: the
// field map is private and only readable through accessors, so concurrent
// session snapshots can share rows safely.
type Row struct {
	line   int
	fields map[TargetField]string
}

// NewRow builds a Row from already-cleaned field values.
func NewRow(line int, fields map[TargetField]string) Row {
	copied := make(map[TargetField]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Row{line: line, fields: copied}
}

// Line returns the 1-based source line the row came from.
func (r Row) Line() int { return r.line }

// Field returns the value mapped to the given target field ("" if unmapped).
func (r Row) Field(f TargetField) string { return r.fields[f] }

// Fields returns a copy of all mapped field values.
func (r Row) Fields() map[TargetField]string {
	out := make(map[TargetField]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Classification is the conflict-detection verdict for one row.
type Classification string

const (
	ClassNew        Classification = "new"
	ClassExactMatch Classification = "exact_match"
	ClassAmbiguous  Classification = "ambiguous"
	ClassConflict   Classification = "conflict"
)

// Candidate is one existing record considered a possible match for a row.
type Candidate struct {
	RecordID string        `json:"recordId"`
	Name     string        `json:"name"`
	Score    float64       `json:"score"`
	Diff     []TargetField `json:"diff,omitempty"` // fields whose values disagree (conflict only)
}

// ConflictEntry is the detection result for one row. Every row gets exactly
// one entry; rows classified ClassNew carry no candidates.
type ConflictEntry struct {
	RowIndex       int            `json:"rowIndex"`
	Line           int            `json:"line"`
	Classification Classification `json:"classification"`
	Candidates     []Candidate    `json:"candidates,omitempty"`
}

// ResolutionAction says what to do with a conflicted row at commit time.
type ResolutionAction string

const (
	ResolutionCreateNew ResolutionAction = "create_new"
	ResolutionMergeWith ResolutionAction = "merge_with"
	ResolutionSkip      ResolutionAction = "skip"
)

// Resolution is the client's decision for a single row.
type Resolution struct {
	Action     ResolutionAction `json:"action"`
	ExistingID string           `json:"existingId,omitempty"` // required for merge_with
}

// CommitResult summarizes a successful commit.
type CommitResult struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// StartResult is returned by StartImport: the new session plus enough of the
// parse outcome for the client to build a mapping.
type StartResult struct {
	SessionID  string      `json:"sessionId"`
	FileName   string      `json:"fileName"`
	Header     []string    `json:"header"`
	TotalRows  int         `json:"totalRows"`
	Preview    [][]string  `json:"preview"`
	LineErrors []LineError `json:"lineErrors,omitempty"`
}

// StatusInfo is the externally visible snapshot of a session.
type StatusInfo struct {
	SessionID string            `json:"sessionId"`
	State     State             `json:"state"`
	FileName  string            `json:"fileName"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	TotalRows int               `json:"totalRows"`
	Conflicts []ConflictEntry   `json:"conflicts,omitempty"`
	ErrorLog  []ValidationError `json:"errorLog,omitempty"`
	Result    *CommitResult     `json:"result,omitempty"`
}

// snapshotKeys lists the distinct normalized class keys of a row set, for
// the one-shot roster snapshot read.
func snapshotKeys(rows []Row) []string {
	seen := make(map[string]bool, 8)
	var keys []string
	for _, row := range rows {
		key := classKeyOf(row)
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
