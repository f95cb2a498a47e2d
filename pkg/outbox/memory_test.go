package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

func entryWithSeq(seq int64, ttl time.Time) models.OutboxEntry {
	return models.OutboxEntry{
		Event: models.Event{
			ID:   uuid.New().String(),
			Type: models.EventTypeMessage,
			Data: "payload",
			Seq:  seq,
		},
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
}

func TestMemoryStoreReadAfterOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ttl := time.Now().Add(time.Hour)

	// Insert out of order.
	for _, seq := range []int64{3, 1, 5, 2, 4} {
		require.NoError(t, store.Insert(ctx, entryWithSeq(seq, ttl)))
	}

	entries, err := store.ReadAfter(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, int64(i+2), e.Seq)
	}

	// Limit applies after ordering.
	entries, err = store.ReadAfter(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, int64(2), entries[1].Seq)
}

func TestMemoryStoreDuplicateSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ttl := time.Now().Add(time.Hour)

	require.NoError(t, store.Insert(ctx, entryWithSeq(7, ttl)))
	err := store.Insert(ctx, entryWithSeq(7, ttl))
	assert.ErrorIs(t, err, ErrDuplicateSequence)
}

func TestMemoryStoreExpiredEntriesInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Insert(ctx, entryWithSeq(1, time.Now().Add(-time.Minute))))
	require.NoError(t, store.Insert(ctx, entryWithSeq(2, time.Now().Add(time.Hour))))

	entries, err := store.ReadAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Seq)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, found, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	ttl := time.Now().Add(time.Hour)
	require.NoError(t, store.Insert(ctx, entryWithSeq(2, ttl)))
	require.NoError(t, store.Insert(ctx, entryWithSeq(9, ttl)))
	require.NoError(t, store.Insert(ctx, entryWithSeq(5, ttl)))

	latest, found, err := store.Latest(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(9), latest.Seq)
}

func TestMemorySequenceStartsAtOne(t *testing.T) {
	ctx := context.Background()
	seq := NewMemorySequence()

	first, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}

func TestMemoryCheckpointsMonotonic(t *testing.T) {
	ctx := context.Background()
	cps := NewMemoryCheckpoints()

	_, err := cps.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	require.NoError(t, cps.Save(ctx, "c1", 10, "ev-10"))
	require.NoError(t, cps.Save(ctx, "c1", 5, "ev-5")) // stale write ignored

	cp, err := cps.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cp.LastSeq)
	assert.Equal(t, "ev-10", cp.LastEventID)

	require.NoError(t, cps.Save(ctx, "c1", 12, "ev-12"))
	cp, err = cps.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), cp.LastSeq)
	assert.Equal(t, "ev-12", cp.LastEventID)
}
