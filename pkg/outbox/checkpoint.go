package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

// CheckpointStore persists the per-client delivery position. Save is an
// upsert; LastSeq never moves backwards regardless of call order, which
// keeps the checkpoint monotonic even when a stale stream races a fresh
// reconnect on another pod.
type CheckpointStore interface {
	// Get returns the checkpoint for clientID, or ErrCheckpointNotFound.
	Get(ctx context.Context, clientID string) (models.Checkpoint, error)

	// Save upserts the checkpoint. A lastSeq lower than the stored value
	// is ignored.
	Save(ctx context.Context, clientID string, lastSeq int64, lastEventID string) error
}

// PostgresCheckpoints is the PostgreSQL-backed CheckpointStore.
type PostgresCheckpoints struct {
	db *sql.DB
}

// NewPostgresCheckpoints creates a CheckpointStore on the given pool.
func NewPostgresCheckpoints(db *sql.DB) *PostgresCheckpoints {
	return &PostgresCheckpoints{db: db}
}

func (s *PostgresCheckpoints) Get(ctx context.Context, clientID string) (models.Checkpoint, error) {
	var cp models.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, last_sequence_number, COALESCE(last_event_id, ''), created_at, updated_at
		   FROM client_checkpoints
		  WHERE client_id = $1`,
		clientID,
	).Scan(&cp.ClientID, &cp.LastSeq, &cp.LastEventID, &cp.CreatedAt, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Checkpoint{}, fmt.Errorf("client %s: %w", clientID, ErrCheckpointNotFound)
	}
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("%w: get checkpoint: %v", ErrStoreUnavailable, err)
	}
	return cp, nil
}

func (s *PostgresCheckpoints) Save(ctx context.Context, clientID string, lastSeq int64, lastEventID string) error {
	// GREATEST keeps the stored position monotonic under concurrent
	// writers (e.g. two sessions for the same client id during a
	// reconnect window).
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_checkpoints (client_id, last_sequence_number, last_event_id, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), now(), now())
		 ON CONFLICT (client_id) DO UPDATE
		   SET last_sequence_number = GREATEST(client_checkpoints.last_sequence_number, EXCLUDED.last_sequence_number),
		       last_event_id = CASE
		         WHEN EXCLUDED.last_sequence_number >= client_checkpoints.last_sequence_number
		         THEN EXCLUDED.last_event_id
		         ELSE client_checkpoints.last_event_id
		       END,
		       updated_at = now()`,
		clientID, lastSeq, lastEventID,
	)
	if err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", ErrStoreUnavailable, err)
	}
	return nil
}

var _ CheckpointStore = (*PostgresCheckpoints)(nil)
