package outbox

import (
	"context"
	"database/sql"
	"fmt"
)

// sequenceRowID is the id of the singleton counter row.
const sequenceRowID = "event_sequence"

// SequenceAllocator issues the next global sequence number. Values are
// strictly increasing across all callers in all processes; the first
// value ever issued is 1.
type SequenceAllocator interface {
	Next(ctx context.Context) (int64, error)
}

// PostgresSequence implements SequenceAllocator on the singleton
// event_sequence row. The upsert-increment is a single statement, so it
// is atomic under concurrent publishers without explicit locking.
type PostgresSequence struct {
	db *sql.DB
}

// NewPostgresSequence creates an allocator on the given pool.
func NewPostgresSequence(db *sql.DB) *PostgresSequence {
	return &PostgresSequence{db: db}
}

func (s *PostgresSequence) Next(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO event_sequence (id, current_value, updated_at)
		 VALUES ($1, 1, now())
		 ON CONFLICT (id) DO UPDATE
		   SET current_value = event_sequence.current_value + 1,
		       updated_at = now()
		 RETURNING current_value`,
		sequenceRowID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: next sequence: %v", ErrStoreUnavailable, err)
	}
	return seq, nil
}

var _ SequenceAllocator = (*PostgresSequence)(nil)
