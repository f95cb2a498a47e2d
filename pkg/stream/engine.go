package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/models"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

// Sink receives events in delivery order. The API layer implements it
// with an SSE frame writer; Send returns an error once the underlying
// connection is gone.
type Sink interface {
	Send(ev models.Event) error
}

// Engine owns one client's delivery state: the bounded pending channel,
// the duplicate-suppression window and the last yielded sequence
// number. Enqueue is called by the dispatcher and the replayer; Run is
// the connection goroutine draining the channel into the sink.
type Engine struct {
	clientID string
	filter   string
	cfg      config.StreamConfig

	checkpoints outbox.CheckpointStore

	ch   chan models.Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
	recent map[string]struct{}
	order  []string

	// lastSeq is only touched by the Run goroutine. Seeded with the
	// client's effective checkpoint so anything at or below it is never
	// yielded again, whatever order replay and live delivery land in.
	lastSeq int64
}

// NewEngine creates an engine for one connection. fromSeq is the
// client's effective checkpoint; events with seq <= fromSeq are
// suppressed.
func NewEngine(clientID, filter string, fromSeq int64, checkpoints outbox.CheckpointStore, cfg config.StreamConfig) *Engine {
	return &Engine{
		clientID:    clientID,
		filter:      filter,
		cfg:         cfg,
		checkpoints: checkpoints,
		ch:          make(chan models.Event, cfg.ChannelCapacity),
		done:        make(chan struct{}),
		recent:      make(map[string]struct{}, cfg.RecentIDCapacity),
		lastSeq:     fromSeq,
	}
}

// ClientID returns the owning client id.
func (e *Engine) ClientID() string { return e.clientID }

// Enqueue offers an event to this client. Duplicates (by event id) are
// dropped. When the channel is full the wait moves to a goroutine so
// the dispatcher is never stalled by one slow client; after the
// enqueue timeout the event is dropped for this client only. Returns
// false when the event was suppressed as a duplicate or the engine is
// closed.
func (e *Engine) Enqueue(ev models.Event) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	if ev.ID != "" {
		if _, seen := e.recent[ev.ID]; seen {
			e.mu.Unlock()
			return false
		}
		e.remember(ev.ID)
	}
	e.mu.Unlock()

	select {
	case e.ch <- ev:
		return true
	default:
	}

	go func() {
		timer := time.NewTimer(e.cfg.EnqueueTimeout)
		defer timer.Stop()
		select {
		case e.ch <- ev:
		case <-timer.C:
			slog.Warn("Dropped event for slow client",
				"client_id", e.clientID, "seq", ev.Seq, "event_id", ev.ID)
		case <-e.done:
		}
	}()
	return true
}

// remember records an event id, halving the window when it overflows.
// Caller holds e.mu.
func (e *Engine) remember(id string) {
	e.recent[id] = struct{}{}
	e.order = append(e.order, id)
	if len(e.order) > e.cfg.RecentIDCapacity {
		cut := len(e.order) / 2
		for _, old := range e.order[:cut] {
			delete(e.recent, old)
		}
		e.order = append([]string(nil), e.order[cut:]...)
	}
}

// Run drains the channel into the sink until the context ends or a
// write fails. Sequence numbers yielded are strictly increasing; the
// checkpoint is advanced only after the sink confirms the write, and a
// checkpoint failure never interrupts the stream.
func (e *Engine) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case ev := <-e.ch:
			if ev.Seq <= e.lastSeq {
				continue
			}
			if err := sink.Send(ev); err != nil {
				return err
			}
			e.lastSeq = ev.Seq
			if err := e.checkpoints.Save(ctx, e.clientID, ev.Seq, ev.ID); err != nil {
				slog.Warn("Checkpoint save failed",
					"client_id", e.clientID, "seq", ev.Seq, "error", err)
			}
		}
	}
}

// LastSeq returns the highest sequence number yielded so far. Only
// meaningful once Run has stopped.
func (e *Engine) LastSeq() int64 { return e.lastSeq }

// Close stops the engine. Pending enqueue waiters are released and
// further Enqueue calls become no-ops. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
}
