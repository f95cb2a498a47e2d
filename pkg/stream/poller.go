package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

// Poller is this pod's single reader of the outbox. It tails the table
// in sequence order and hands each event to the registry. Its cursor is
// process-local; on start it rewinds a fixed distance behind the outbox
// head and relies on per-client dedup to absorb the overlap.
type Poller struct {
	store    outbox.Store
	registry *Registry
	cfg      config.StreamConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller over the given store and registry.
func NewPoller(store outbox.Store, registry *Registry, cfg config.StreamConfig) *Poller {
	return &Poller{store: store, registry: registry, cfg: cfg}
}

// Start launches the polling loop in the background.
func (p *Poller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.run(runCtx)
	}()
	slog.Info("Outbox poller started",
		"poll_interval", p.cfg.PollInterval, "batch_size", p.cfg.PollBatchSize)
}

// Stop cancels the loop and waits for it to exit, bounded by ctx.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		slog.Info("Outbox poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context) {
	cursor, ok := p.initCursor(ctx)
	if !ok {
		return
	}
	slog.Info("Outbox poller cursor initialized", "from_seq", cursor)

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := p.store.ReadAfter(ctx, cursor, p.cfg.PollBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Outbox read failed", "from_seq", cursor, "error", err)
			if !sleep(ctx, p.cfg.ErrorRetryInterval) {
				return
			}
			continue
		}

		if len(entries) == 0 {
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		for _, entry := range entries {
			p.registry.Deliver(entry.Event)
			cursor = entry.Seq
		}
		// A full batch means more is likely waiting; read again at once.
	}
}

// initCursor places the cursor RewindOnStart behind the current outbox
// head, retrying until the store answers or the context ends.
func (p *Poller) initCursor(ctx context.Context) (int64, bool) {
	for {
		latest, found, err := p.store.Latest(ctx)
		if err == nil {
			if !found {
				return 0, true
			}
			cursor := latest.Seq - p.cfg.RewindOnStart
			if cursor < 0 {
				cursor = 0
			}
			return cursor, true
		}
		if ctx.Err() != nil {
			return 0, false
		}
		slog.Error("Outbox head lookup failed", "error", err)
		if !sleep(ctx, p.cfg.ErrorRetryInterval) {
			return 0, false
		}
	}
}

// sleep waits for d or the context, reporting whether the caller should
// keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
