package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/models"
)

// EventPublisher is the publish-side dependency of the heartbeater.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, data, target string) (models.Event, error)
}

// Heartbeater periodically publishes a heartbeat event through the
// outbox so it is sequenced and checkpointed like any other event.
// Publishing is skipped while no client is connected to this pod; pods
// with clients each publish, and per-client dedup collapses nothing
// here because every heartbeat is a distinct event.
type Heartbeater struct {
	publisher EventPublisher
	registry  *Registry
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeater creates a heartbeater with the configured interval.
func NewHeartbeater(publisher EventPublisher, registry *Registry, cfg config.StreamConfig) *Heartbeater {
	return &Heartbeater{publisher: publisher, registry: registry, interval: cfg.HeartbeatInterval}
}

// Start launches the heartbeat ticker in the background.
func (h *Heartbeater) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				h.beat(runCtx)
			}
		}
	}()
	slog.Info("Heartbeater started", "interval", h.interval)
}

// Stop cancels the ticker and waits for it to exit, bounded by ctx.
func (h *Heartbeater) Stop(ctx context.Context) error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
		slog.Info("Heartbeater stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	if h.registry.ActiveClients() == 0 {
		return
	}

	payload := models.HeartbeatPayload{
		PayloadEnvelope: models.NewPayloadEnvelope(models.EventTypeHeartbeat),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Heartbeat payload marshal failed", "error", err)
		return
	}
	if _, err := h.publisher.Publish(ctx, models.EventTypeHeartbeat, string(data), ""); err != nil {
		slog.Warn("Heartbeat publish failed", "error", err)
	}
}
