package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/models"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		PollInterval:       5 * time.Millisecond,
		PollBatchSize:      100,
		RewindOnStart:      100,
		ErrorRetryInterval: 10 * time.Millisecond,
		ChannelCapacity:    64,
		EnqueueTimeout:     50 * time.Millisecond,
		RecentIDCapacity:   8,
		ReplayBatchLimit:   1000,
		ReplayPacing:       time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
	}
}

func event(seq int64) models.Event {
	return models.Event{
		ID:   uuid.New().String(),
		Type: models.EventTypeMessage,
		Data: "payload",
		Seq:  seq,
	}
}

// captureSink records sent events and signals each send on a channel.
type captureSink struct {
	mu     sync.Mutex
	events []models.Event
	sent   chan models.Event
	err    error
}

func newCaptureSink() *captureSink {
	return &captureSink{sent: make(chan models.Event, 128)}
}

func (s *captureSink) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	s.sent <- ev
	return nil
}

func (s *captureSink) seqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Seq
	}
	return out
}

func waitForSend(t *testing.T, sink *captureSink) models.Event {
	t.Helper()
	select {
	case ev := <-sink.sent:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink send")
		return models.Event{}
	}
}

func runEngine(t *testing.T, e *Engine, sink Sink) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx, sink)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestEngineYieldsInOrder(t *testing.T) {
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), testStreamConfig())
	sink := newCaptureSink()
	runEngine(t, e, sink)

	e.Enqueue(event(1))
	e.Enqueue(event(2))
	e.Enqueue(event(3))

	for i := 0; i < 3; i++ {
		waitForSend(t, sink)
	}
	assert.Equal(t, []int64{1, 2, 3}, sink.seqs())
}

func TestEngineSuppressesDuplicateIDs(t *testing.T) {
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), testStreamConfig())
	sink := newCaptureSink()
	runEngine(t, e, sink)

	ev := event(1)
	assert.True(t, e.Enqueue(ev))
	assert.False(t, e.Enqueue(ev))

	waitForSend(t, sink)
	e.Enqueue(event(2))
	waitForSend(t, sink)
	assert.Equal(t, []int64{1, 2}, sink.seqs())
}

func TestEngineSkipsStaleSequences(t *testing.T) {
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), testStreamConfig())
	sink := newCaptureSink()
	runEngine(t, e, sink)

	e.Enqueue(event(5))
	waitForSend(t, sink)

	// A delayed lower-sequence event must never be yielded after a
	// higher one has gone out.
	e.Enqueue(event(3))
	e.Enqueue(event(6))
	waitForSend(t, sink)

	assert.Equal(t, []int64{5, 6}, sink.seqs())
}

func TestEngineStartsFromCheckpoint(t *testing.T) {
	e := NewEngine("c1", "", 5, outbox.NewMemoryCheckpoints(), testStreamConfig())
	sink := newCaptureSink()
	runEngine(t, e, sink)

	e.Enqueue(event(4))
	e.Enqueue(event(5))
	e.Enqueue(event(6))
	waitForSend(t, sink)

	assert.Equal(t, []int64{6}, sink.seqs())
}

func TestEngineAdvancesCheckpointAfterSend(t *testing.T) {
	cps := outbox.NewMemoryCheckpoints()
	e := NewEngine("c1", "", 0, cps, testStreamConfig())
	sink := newCaptureSink()
	runEngine(t, e, sink)

	ev := event(9)
	e.Enqueue(ev)
	waitForSend(t, sink)

	require.Eventually(t, func() bool {
		cp, err := cps.Get(context.Background(), "c1")
		return err == nil && cp.LastSeq == 9 && cp.LastEventID == ev.ID
	}, time.Second, 5*time.Millisecond)
}

func TestEngineDropsOnOverflowAfterTimeout(t *testing.T) {
	cfg := testStreamConfig()
	cfg.ChannelCapacity = 1
	cfg.EnqueueTimeout = 20 * time.Millisecond
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), cfg)

	// No Run draining: the first fill the channel, the second parks in
	// a goroutine and is dropped when the timeout passes.
	assert.True(t, e.Enqueue(event(1)))
	assert.True(t, e.Enqueue(event(2)))
	time.Sleep(50 * time.Millisecond)

	sink := newCaptureSink()
	runEngine(t, e, sink)
	waitForSend(t, sink)
	e.Enqueue(event(3))
	waitForSend(t, sink)

	assert.Equal(t, []int64{1, 3}, sink.seqs())
}

func TestEngineRecentWindowHalvesOnOverflow(t *testing.T) {
	cfg := testStreamConfig()
	cfg.RecentIDCapacity = 4
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), cfg)
	sink := newCaptureSink()
	runEngine(t, e, sink)

	first := event(1)
	e.Enqueue(first)
	for seq := int64(2); seq <= 5; seq++ {
		e.Enqueue(event(seq))
	}
	for i := 0; i < 5; i++ {
		waitForSend(t, sink)
	}

	// The overflow dropped the oldest half of the window, so the first
	// id is no longer remembered; only the stale-sequence guard stops
	// it now.
	assert.True(t, e.Enqueue(first))
}

func TestEngineRunStopsOnSinkError(t *testing.T) {
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), testStreamConfig())
	sink := newCaptureSink()
	sink.err = fmt.Errorf("broken pipe")

	e.Enqueue(event(1))
	err := e.Run(context.Background(), sink)
	assert.EqualError(t, err, "broken pipe")
}

func TestEngineCloseReleasesRun(t *testing.T) {
	e := NewEngine("c1", "", 0, outbox.NewMemoryCheckpoints(), testStreamConfig())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background(), newCaptureSink())
	}()

	e.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.False(t, e.Enqueue(event(1)))
}
