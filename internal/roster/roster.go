// Package roster is the persistence boundary for the import pipeline. The
// import core only ever reads candidate snapshots and applies resolved rows
// through the interfaces here; it never owns student records itself.
package roster

import "context"

// Field names accepted by Insert and Update. They mirror the import target
// fields so the two layers agree without sharing a type.
const (
	FieldName         = "name"
	FieldClass        = "class"
	FieldRegistration = "registration"
	FieldEmail        = "email"
	FieldBirthdate    = "birthdate"
	FieldCallNumber   = "call_number"
)

// Record is a read-only view of a stored student, preloaded with the
// normalized name and class key so matching never re-normalizes stored data.
type Record struct {
	ID           string
	Name         string
	NormName     string
	ClassKey     string
	Registration string
	Birthdate    string
	Email        string
}

// FieldMap carries the writable fields for an insert or a partial update.
// Keys are the Field* constants above.
type FieldMap map[string]string

// Tx exposes the write operations available inside a roster transaction.
// All writes issued through one Tx commit or roll back together.
type Tx interface {
	// Insert creates a new student record and returns its identifier.
	Insert(ctx context.Context, fields FieldMap) (string, error)

	// Update overwrites only the given fields on an existing record.
	Update(ctx context.Context, id string, fields FieldMap) error
}

// Roster is the persistence contract the import pipeline depends on.
type Roster interface {
	// FindCandidates returns all records sharing the given class key,
	// ordered by identifier for deterministic downstream ranking.
	FindCandidates(ctx context.Context, classKey string) ([]Record, error)

	// SnapshotByClass returns a point-in-time view of every class key
	// requested, grouped by key. One call per conflict-detection pass.
	SnapshotByClass(ctx context.Context, classKeys []string) (map[string][]Record, error)

	// WithTx runs fn inside a single atomic transaction. If fn returns an
	// error the transaction is rolled back and no write is observable.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
