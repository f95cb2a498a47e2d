// Package outbox implements the durable, globally-ordered event plane:
// the append-only outbox log, the atomic sequence allocator, per-client
// checkpoints and the synchronous publisher.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

// Store is the outbox contract: an append-only log of events keyed by a
// unique, monotonic sequence number. Entries are never updated; expired
// entries may be reaped at any time and readers must tolerate the gap.
type Store interface {
	// Insert persists an immutable entry. Returns ErrDuplicateSequence
	// when an entry with the same seq already exists.
	Insert(ctx context.Context, entry models.OutboxEntry) error

	// ReadAfter returns up to limit entries with seq > fromSeq in
	// ascending seq order.
	ReadAfter(ctx context.Context, fromSeq int64, limit int) ([]models.OutboxEntry, error)

	// Latest returns the entry with the highest seq, or ok=false when
	// the outbox is empty.
	Latest(ctx context.Context) (models.OutboxEntry, bool, error)

	// DeleteExpired reaps entries whose TTL has passed and returns the
	// number of rows removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostgresStore is the PostgreSQL-backed Store. All operations are single
// statements on the shared pool; no transactions or locks are needed
// because entries are immutable.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Store on the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgUniqueViolation = "23505"

func (s *PostgresStore) Insert(ctx context.Context, entry models.OutboxEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_events
		   (event_id, sequence_number, event_type, event_data, target_client_id, created_at, ttl)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		entry.ID, entry.Seq, entry.Type, entry.Data, entry.Target, entry.CreatedAt, entry.TTL,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("seq %d: %w", entry.Seq, ErrDuplicateSequence)
		}
		return fmt.Errorf("%w: insert: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) ReadAfter(ctx context.Context, fromSeq int64, limit int) ([]models.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, sequence_number, event_type, event_data,
		        COALESCE(target_client_id, ''), created_at, ttl
		   FROM outbox_events
		  WHERE sequence_number > $1 AND ttl > now()
		  ORDER BY sequence_number ASC
		  LIMIT $2`,
		fromSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read after %d: %v", ErrStoreUnavailable, fromSeq, err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &e.Data, &e.Target, &e.CreatedAt, &e.TTL); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStoreUnavailable, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrStoreUnavailable, err)
	}
	return entries, nil
}

func (s *PostgresStore) Latest(ctx context.Context) (models.OutboxEntry, bool, error) {
	var e models.OutboxEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, sequence_number, event_type, event_data,
		        COALESCE(target_client_id, ''), created_at, ttl
		   FROM outbox_events
		  ORDER BY sequence_number DESC
		  LIMIT 1`,
	).Scan(&e.ID, &e.Seq, &e.Type, &e.Data, &e.Target, &e.CreatedAt, &e.TTL)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OutboxEntry{}, false, nil
	}
	if err != nil {
		return models.OutboxEntry{}, false, fmt.Errorf("%w: latest: %v", ErrStoreUnavailable, err)
	}
	return e, true, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox_events WHERE ttl < now()`)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
