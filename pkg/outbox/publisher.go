package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/models"
)

// Publisher accepts event submissions and writes them to the outbox.
// Publish is synchronous up to durability: when it returns nil the entry
// is in the store. A failed publish leaves a gap in the sequence; gaps
// are acceptable but reordering is not, so the allocated seq is never
// reused or rolled back.
type Publisher struct {
	seq   SequenceAllocator
	store Store
	cfg   config.PublishConfig
}

// NewPublisher creates a Publisher over the given allocator and store.
func NewPublisher(seq SequenceAllocator, store Store, cfg config.PublishConfig) *Publisher {
	return &Publisher{seq: seq, store: store, cfg: cfg}
}

// Publish allocates a sequence number, builds the entry and inserts it
// with bounded exponential-backoff retry. target is empty for broadcast.
// The durably written event is returned so callers can surface its seq.
func (p *Publisher) Publish(ctx context.Context, eventType, data, target string) (models.Event, error) {
	seq, err := p.seq.Next(ctx)
	if err != nil {
		return models.Event{}, fmt.Errorf("%w: allocate sequence: %v", ErrPublishFailed, err)
	}

	created := time.Now().UTC()
	entry := models.OutboxEntry{
		Event: models.Event{
			ID:     uuid.New().String(),
			Type:   eventType,
			Data:   data,
			Seq:    seq,
			Target: target,
		},
		CreatedAt: created,
		TTL:       created.Add(p.cfg.EventTTL),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 10 * time.Second

	attempt := 0
	op := func() error {
		attempt++
		err := p.store.Insert(ctx, entry)
		if err == nil {
			return nil
		}
		// A duplicate seq cannot succeed on retry.
		if errors.Is(err, ErrDuplicateSequence) {
			return backoff.Permanent(err)
		}
		slog.Warn("Outbox insert failed, retrying",
			"seq", seq, "type", eventType, "attempt", attempt, "error", err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.MaxRetries), ctx)); err != nil {
		return models.Event{}, fmt.Errorf("%w: seq %d after %d attempts: %v", ErrPublishFailed, seq, attempt, err)
	}
	return entry.Event, nil
}
