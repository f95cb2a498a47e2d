package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

// In-memory implementations of Store, SequenceAllocator and
// CheckpointStore. They back the -memory dev mode and the unit tests;
// durability and cross-pod visibility obviously don't apply, but the
// contracts (unique seq, ordered reads, monotonic checkpoints) hold.

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]models.OutboxEntry
}

// NewMemoryStore creates an empty in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]models.OutboxEntry)}
}

func (s *MemoryStore) Insert(_ context.Context, entry models.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Seq]; exists {
		return fmt.Errorf("seq %d: %w", entry.Seq, ErrDuplicateSequence)
	}
	s.entries[entry.Seq] = entry
	return nil
}

func (s *MemoryStore) ReadAfter(_ context.Context, fromSeq int64, limit int) ([]models.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nowTS := time.Now()
	var out []models.OutboxEntry
	for seq, e := range s.entries {
		if seq > fromSeq && e.TTL.After(nowTS) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Latest(_ context.Context) (models.OutboxEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best models.OutboxEntry
	found := false
	for _, e := range s.entries {
		if !found || e.Seq > best.Seq {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowTS := time.Now()
	var n int64
	for seq, e := range s.entries {
		if e.TTL.Before(nowTS) {
			delete(s.entries, seq)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live entries. Used by tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)

// MemorySequence is a process-local SequenceAllocator.
type MemorySequence struct {
	mu      sync.Mutex
	current int64
}

// NewMemorySequence creates an allocator starting at 1.
func NewMemorySequence() *MemorySequence {
	return &MemorySequence{}
}

func (s *MemorySequence) Next(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	return s.current, nil
}

var _ SequenceAllocator = (*MemorySequence)(nil)

// MemoryCheckpoints is a process-local CheckpointStore.
type MemoryCheckpoints struct {
	mu          sync.RWMutex
	checkpoints map[string]models.Checkpoint
}

// NewMemoryCheckpoints creates an empty checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{checkpoints: make(map[string]models.Checkpoint)}
}

func (s *MemoryCheckpoints) Get(_ context.Context, clientID string) (models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[clientID]
	if !ok {
		return models.Checkpoint{}, fmt.Errorf("client %s: %w", clientID, ErrCheckpointNotFound)
	}
	return cp, nil
}

func (s *MemoryCheckpoints) Save(_ context.Context, clientID string, lastSeq int64, lastEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowTS := time.Now().UTC()
	cp, ok := s.checkpoints[clientID]
	if !ok {
		s.checkpoints[clientID] = models.Checkpoint{
			ClientID:    clientID,
			LastSeq:     lastSeq,
			LastEventID: lastEventID,
			CreatedAt:   nowTS,
			UpdatedAt:   nowTS,
		}
		return nil
	}
	if lastSeq >= cp.LastSeq {
		cp.LastSeq = lastSeq
		cp.LastEventID = lastEventID
	}
	cp.UpdatedAt = nowTS
	s.checkpoints[clientID] = cp
	return nil
}

var _ CheckpointStore = (*MemoryCheckpoints)(nil)
