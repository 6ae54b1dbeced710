package roster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWithTxApplies(t *testing.T) {
	m := NewMemory()

	var id string
	err := m.WithTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.Insert(context.Background(), FieldMap{
			FieldName:         "Maria Silva",
			FieldClass:        "5A",
			FieldRegistration: "1001",
		})
		return err
	})
	require.NoError(t, err)

	rec, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Maria Silva", rec.Name)
	assert.Equal(t, "maria silva", rec.NormName)
	assert.Equal(t, "5a", rec.ClassKey)
}

func TestMemoryWithTxCancelledContextAppliesNothing(t *testing.T) {
	m := NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	err := m.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.Insert(ctx, FieldMap{
			FieldName:         "Maria Silva",
			FieldClass:        "5A",
			FieldRegistration: "1001",
		}); err != nil {
			return err
		}
		// Caller disconnects mid-transaction.
		cancel()
		_, err := tx.Insert(ctx, FieldMap{
			FieldName:         "Joao Souza",
			FieldClass:        "5A",
			FieldRegistration: "1002",
		})
		return err
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Len(), "a failed transaction must leave no writes")
}

func TestMemoryWithTxUniqueViolationAppliesNothing(t *testing.T) {
	m := NewMemory()
	m.Seed(Record{ID: "s1", Name: "Maria Silva", ClassKey: "5a", Registration: "1001"})

	err := m.WithTx(context.Background(), func(tx Tx) error {
		// First insert is fine, second collides with the seeded record.
		if _, err := tx.Insert(context.Background(), FieldMap{
			FieldName:         "Joao Souza",
			FieldClass:        "5A",
			FieldRegistration: "1002",
		}); err != nil {
			return err
		}
		_, err := tx.Insert(context.Background(), FieldMap{
			FieldName:         "Another Maria",
			FieldClass:        "5A",
			FieldRegistration: "1001",
		})
		return err
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key value violates unique constraint")
	assert.Equal(t, 1, m.Len(), "only the seeded record may remain")
}
