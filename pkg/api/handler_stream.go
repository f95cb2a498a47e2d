package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/beacon/pkg/outbox"
	"github.com/codeready-toolchain/beacon/pkg/stream"
)

// connectHandler handles GET /api/sse/connect.
//
// The connection sequence: resolve the client's effective checkpoint,
// open the SSE stream, replay the missed window into the engine,
// register it so live events start flowing, then drain the engine
// into the socket until the client goes away. Replay finishes before
// registration; see the ordering note below.
func (s *Server) connectHandler(c *echo.Context) error {
	clientID := c.QueryParam("clientId")
	if clientID == "" {
		// Anonymous connections get a fresh identity; their checkpoint
		// is useless across reconnects, which is the caller's choice.
		clientID = uuid.New().String()
	}
	filter := stream.NormalizeFilter(c.QueryParam("filter"))

	fromSeq, hasCheckpoint, err := s.resolveCheckpoint(c, clientID)
	if err != nil {
		return err
	}

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink, err := newSSEWriter(w)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}
	// Opening comment confirms the stream without consuming a sequence
	// number; "connected" is never published through the outbox.
	if err := sink.Comment("connected"); err != nil {
		return nil
	}

	engine := stream.NewEngine(clientID, filter, fromSeq, s.checkpoints, s.streamCfg)
	ctx := c.Request().Context()

	// The missed window must be fully enqueued before the engine is
	// eligible for live delivery. If a live event with a higher seq got
	// in first, the monotonic guard would discard the replayed events
	// unsent while the checkpoint moved past them. The duplicate window
	// absorbs any overlap with the poller's rewind. A client without
	// any checkpoint skips replay and starts on the live feed alone.
	if hasCheckpoint {
		if _, err := s.replayer.Replay(ctx, engine, fromSeq); err != nil {
			slog.Warn("Replay failed, continuing with live stream",
				"client_id", clientID, "from_seq", fromSeq, "error", err)
		}
	}

	s.registry.Register(engine)
	defer s.registry.Unregister(engine)

	slog.Info("Client connected", "client_id", clientID, "filter", filter, "from_seq", fromSeq)
	_ = engine.Run(ctx, sink) // a write error just means the peer is gone
	slog.Info("Client disconnected", "client_id", clientID, "last_seq", engine.LastSeq())
	return nil
}

// resolveCheckpoint determines where the client's stream resumes from.
// An explicit checkpoint query parameter wins; otherwise the persisted
// checkpoint is used. A client with neither gets no replay and starts
// on the live feed.
func (s *Server) resolveCheckpoint(c *echo.Context, clientID string) (int64, bool, error) {
	if v := c.QueryParam("checkpoint"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq < 0 {
			return 0, false, echo.NewHTTPError(http.StatusBadRequest, "invalid checkpoint: must be a non-negative integer")
		}
		return seq, true, nil
	}

	// Last-Event-ID carries the event uuid, which has no order of its
	// own; it is logged for correlation but resumption always follows
	// the sequence-number checkpoint.
	lastEventID := c.QueryParam("lastEventId")
	if lastEventID == "" {
		lastEventID = c.Request().Header.Get("Last-Event-ID")
	}
	if lastEventID != "" {
		slog.Debug("Client supplied last event id", "client_id", clientID, "last_event_id", lastEventID)
	}

	cp, err := s.checkpoints.Get(c.Request().Context(), clientID)
	if errors.Is(err, outbox.ErrCheckpointNotFound) {
		return 0, false, nil
	}
	if err != nil {
		slog.Warn("Checkpoint lookup failed, joining live feed only", "client_id", clientID, "error", err)
		return 0, false, nil
	}
	return cp.LastSeq, true, nil
}
