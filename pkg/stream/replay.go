package stream

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

// Replayer injects missed events into a freshly connected engine. It
// reads one bounded batch after the client's effective checkpoint and
// enqueues the events that this client would have received live, paced
// so the write side is not flooded before the client has finished its
// connection handshake.
type Replayer struct {
	store outbox.Store
	cfg   config.StreamConfig
}

// NewReplayer creates a replayer over the given store.
func NewReplayer(store outbox.Store, cfg config.StreamConfig) *Replayer {
	return &Replayer{store: store, cfg: cfg}
}

// Replay enqueues the stored events after fromSeq that match the
// engine's client id and filter, up to the batch limit. It returns the
// number of events injected. A client further behind than the limit
// gets the oldest window; the live stream supplies the rest over
// subsequent reconnects. Replay failure is not fatal to the connection.
func (r *Replayer) Replay(ctx context.Context, e *Engine, fromSeq int64) (int, error) {
	entries, err := r.store.ReadAfter(ctx, fromSeq, r.cfg.ReplayBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("read replay window after seq %d: %w", fromSeq, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	limiter := rate.NewLimiter(rate.Every(r.cfg.ReplayPacing), 1)
	injected := 0
	for _, entry := range entries {
		if entry.Targeted() && entry.Target != e.clientID {
			continue
		}
		if !entry.Targeted() && !matchesFilter(e.filter, entry.Type) {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return injected, err
		}
		if e.Enqueue(entry.Event) {
			injected++
		}
	}

	slog.Info("Replay complete",
		"client_id", e.clientID, "from_seq", fromSeq,
		"scanned", len(entries), "injected", injected)
	return injected, nil
}
