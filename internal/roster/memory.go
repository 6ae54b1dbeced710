package roster

// memory.go is an in-memory Roster used when no database is configured
// (demo mode) and by tests. It enforces the same uniqueness rule as the
// Postgres schema: one registration per class key.

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rosterflow/rosterflow/internal/textnorm"
)

// Memory is a thread-safe in-memory Roster.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory roster.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Seed inserts records directly, bypassing transaction plumbing. Test and
// demo setup only.
func (m *Memory) Seed(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.NormName == "" {
			rec.NormName = textnorm.Normalize(rec.Name)
		}
		m.records[rec.ID] = rec
	}
}

// Get returns a record by id. Test helper.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) FindCandidates(_ context.Context, classKey string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if rec.ClassKey == classKey {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SnapshotByClass(_ context.Context, classKeys []string) (map[string][]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]bool, len(classKeys))
	for _, key := range classKeys {
		want[key] = true
	}

	snapshot := make(map[string][]Record, len(classKeys))
	for _, rec := range m.records {
		if want[rec.ClassKey] {
			snapshot[rec.ClassKey] = append(snapshot[rec.ClassKey], rec)
		}
	}
	for key := range snapshot {
		recs := snapshot[key]
		sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	}
	return snapshot, nil
}

// WithTx stages all writes and applies them under one lock only if fn
// succeeds, matching the all-or-nothing contract of the real database.
func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memoryTx{roster: m}
	if err := fn(tx); err != nil {
		return err
	}

	// A dead context means the caller already gave up; nothing staged may
	// become visible, same as a rolled-back database transaction.
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate uniqueness across existing rows plus earlier staged rows
	// before touching the map, so a late violation leaves no partial state.
	taken := make(map[string]string, len(m.records))
	for id, rec := range m.records {
		if rec.Registration != "" {
			taken[rec.ClassKey+"\x00"+rec.Registration] = id
		}
	}
	for _, op := range tx.ops {
		rec := op.record
		if op.update {
			existing, ok := m.records[rec.ID]
			if !ok {
				return fmt.Errorf("update student %s: record not found", rec.ID)
			}
			delete(taken, existing.ClassKey+"\x00"+existing.Registration)
			rec = mergeRecord(existing, op.fields)
		}
		if rec.Registration != "" {
			key := rec.ClassKey + "\x00" + rec.Registration
			if owner, dup := taken[key]; dup && owner != rec.ID {
				return fmt.Errorf("insert student %q: duplicate key value violates unique constraint \"students_class_registration\"", rec.Name)
			}
			taken[key] = rec.ID
		}
		op.resolved = rec
	}

	for _, op := range tx.ops {
		m.records[op.resolved.ID] = op.resolved
	}
	return nil
}

type memoryOp struct {
	update   bool
	record   Record
	fields   FieldMap
	resolved Record
}

type memoryTx struct {
	roster *Memory
	ops    []*memoryOp
}

func (t *memoryTx) Insert(_ context.Context, fields FieldMap) (string, error) {
	name := fields[FieldName]
	rec := Record{
		ID:           uuid.NewString(),
		Name:         name,
		NormName:     textnorm.Normalize(name),
		ClassKey:     textnorm.Key(fields[FieldClass]),
		Registration: fields[FieldRegistration],
		Birthdate:    fields[FieldBirthdate],
		Email:        fields[FieldEmail],
	}
	t.ops = append(t.ops, &memoryOp{record: rec})
	return rec.ID, nil
}

func (t *memoryTx) Update(_ context.Context, id string, fields FieldMap) error {
	t.ops = append(t.ops, &memoryOp{update: true, record: Record{ID: id}, fields: fields})
	return nil
}

func mergeRecord(existing Record, fields FieldMap) Record {
	for field, value := range fields {
		switch field {
		case FieldName:
			existing.Name = value
			existing.NormName = textnorm.Normalize(value)
		case FieldClass:
			existing.ClassKey = textnorm.Key(value)
		case FieldRegistration:
			existing.Registration = value
		case FieldBirthdate:
			existing.Birthdate = value
		case FieldEmail:
			existing.Email = value
		}
	}
	return existing
}
