package roster

// postgres.go implements Roster on PostgreSQL via pgx.
//
// Expected schema:
//
//	CREATE TABLE students (
//	    id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
//	    name         TEXT NOT NULL,
//	    norm_name    TEXT NOT NULL,
//	    class_key    TEXT NOT NULL,
//	    registration TEXT NOT NULL DEFAULT '',
//	    birthdate    TEXT NOT NULL DEFAULT '',
//	    email        TEXT NOT NULL DEFAULT '',
//	    call_number  TEXT NOT NULL DEFAULT ''
//	);
//	CREATE UNIQUE INDEX students_class_registration
//	    ON students (class_key, registration) WHERE registration <> '';
//	CREATE INDEX students_class_key ON students (class_key);
//
// The partial unique index is what turns a detect/commit race into a
// commit-time failure instead of a silent duplicate.

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rosterflow/rosterflow/internal/textnorm"
)

const recordColumns = "id, name, norm_name, class_key, registration, birthdate, email"

// Postgres is the production Roster backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Roster on top of an existing pool. The caller owns
// the pool's lifecycle.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// FindCandidates returns all records in one class, ordered by id.
func (p *Postgres) FindCandidates(ctx context.Context, classKey string) ([]Record, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM students WHERE class_key = $1 ORDER BY id",
		classKey,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidates for class %q: %w", classKey, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SnapshotByClass reads every requested class in a single query so the
// detector sees one consistent point-in-time view.
func (p *Postgres) SnapshotByClass(ctx context.Context, classKeys []string) (map[string][]Record, error) {
	snapshot := make(map[string][]Record, len(classKeys))
	if len(classKeys) == 0 {
		return snapshot, nil
	}

	rows, err := p.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM students WHERE class_key = ANY($1) ORDER BY id",
		classKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot classes: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		snapshot[rec.ClassKey] = append(snapshot[rec.ClassKey], rec)
	}
	return snapshot, nil
}

// WithTx runs fn inside a serializable transaction. Serializable isolation
// means two commits racing on the same logical student fail loudly rather
// than interleave.
func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgxTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Insert(ctx context.Context, fields FieldMap) (string, error) {
	name := fields[FieldName]
	class := fields[FieldClass]

	var id string
	err := t.tx.QueryRow(ctx,
		`INSERT INTO students (name, norm_name, class_key, registration, birthdate, email, call_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		name,
		textnorm.Normalize(name),
		textnorm.Key(class),
		fields[FieldRegistration],
		fields[FieldBirthdate],
		fields[FieldEmail],
		fields[FieldCallNumber],
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert student %q: %w", name, err)
	}
	return id, nil
}

func (t *pgxTx) Update(ctx context.Context, id string, fields FieldMap) error {
	set := make([]string, 0, len(fields)+2)
	args := make([]any, 0, len(fields)+3)

	// Fixed field order keeps the generated SQL stable for a given FieldMap.
	for _, field := range []string{FieldName, FieldClass, FieldRegistration, FieldBirthdate, FieldEmail, FieldCallNumber} {
		value, ok := fields[field]
		if !ok {
			continue
		}
		switch field {
		case FieldName:
			args = append(args, value)
			set = append(set, fmt.Sprintf("name = $%d", len(args)))
			args = append(args, textnorm.Normalize(value))
			set = append(set, fmt.Sprintf("norm_name = $%d", len(args)))
		case FieldClass:
			args = append(args, textnorm.Key(value))
			set = append(set, fmt.Sprintf("class_key = $%d", len(args)))
		default:
			args = append(args, value)
			set = append(set, fmt.Sprintf("%s = $%d", field, len(args)))
		}
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	sql := fmt.Sprintf("UPDATE students SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update student %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update student %s: record not found", id)
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.NormName, &rec.ClassKey, &rec.Registration, &rec.Birthdate, &rec.Email); err != nil {
			return nil, fmt.Errorf("scan student record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read student records: %w", err)
	}
	return records, nil
}
