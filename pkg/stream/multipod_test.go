package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/models"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

// Two pollers over one store model two pods sharing a database.

func publisherOver(store outbox.Store) *outbox.Publisher {
	return outbox.NewPublisher(outbox.NewMemorySequence(), store, config.PublishConfig{
		EventTTL:       time.Hour,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
}

func TestBroadcastReachesClientsOnBothPods(t *testing.T) {
	store := outbox.NewMemoryStore()
	pub := publisherOver(store)

	podA := NewRegistry()
	podB := NewRegistry()
	startPoller(t, store, podA)
	startPoller(t, store, podB)

	e1 := newTestEngine("c1", "")
	e2 := newTestEngine("c2", "")
	podA.Register(e1)
	podB.Register(e2)
	sink1 := collect(t, e1)
	sink2 := collect(t, e2)

	ev, err := pub.Publish(context.Background(), models.EventTypeMessage, "hello", "")
	require.NoError(t, err)

	assert.Equal(t, ev.ID, waitForSend(t, sink1).ID)
	assert.Equal(t, ev.ID, waitForSend(t, sink2).ID)
}

func TestTargetedEventReachesOnlyItsPod(t *testing.T) {
	store := outbox.NewMemoryStore()
	pub := publisherOver(store)

	podA := NewRegistry()
	podB := NewRegistry()
	startPoller(t, store, podA)
	startPoller(t, store, podB)

	e1 := newTestEngine("c1", "")
	e2 := newTestEngine("c2", "")
	podA.Register(e1)
	podB.Register(e2)
	sink1 := collect(t, e1)
	sink2 := collect(t, e2)

	// Both pollers see the targeted event; only c2's pod has a matching
	// engine. The follow-up broadcast proves c1 skipped it.
	targeted, err := pub.Publish(context.Background(), models.EventTypeMessage, "direct", "c2")
	require.NoError(t, err)
	broadcast, err := pub.Publish(context.Background(), models.EventTypeMessage, "all", "")
	require.NoError(t, err)

	assert.Equal(t, targeted.ID, waitForSend(t, sink2).ID)
	assert.Equal(t, broadcast.ID, waitForSend(t, sink1).ID)
}

func TestReconnectOnAnotherPodResumesFromCheckpoint(t *testing.T) {
	store := outbox.NewMemoryStore()
	cps := outbox.NewMemoryCheckpoints()
	pub := publisherOver(store)
	cfg := testStreamConfig()

	// Session on pod A: the client consumes three events.
	podA := NewRegistry()
	startPoller(t, store, podA)
	engineA := NewEngine("c1", "", 0, cps, cfg)
	podA.Register(engineA)
	sinkA := collect(t, engineA)

	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), models.EventTypeMessage, "x", "")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		waitForSend(t, sinkA)
	}
	podA.Unregister(engineA)

	require.Eventually(t, func() bool {
		cp, err := cps.Get(context.Background(), "c1")
		return err == nil && cp.LastSeq == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Two more events while the client is offline.
	for i := 0; i < 2; i++ {
		_, err := pub.Publish(context.Background(), models.EventTypeMessage, "x", "")
		require.NoError(t, err)
	}

	// Reconnect on pod B from the persisted checkpoint.
	cp, err := cps.Get(context.Background(), "c1")
	require.NoError(t, err)

	podB := NewRegistry()
	startPoller(t, store, podB)
	engineB := NewEngine("c1", "", cp.LastSeq, cps, cfg)
	podB.Register(engineB)
	sinkB := collect(t, engineB)

	_, err = NewReplayer(store, cfg).Replay(context.Background(), engineB, cp.LastSeq)
	require.NoError(t, err)

	waitForSend(t, sinkB)
	waitForSend(t, sinkB)
	assert.Equal(t, []int64{4, 5}, sinkB.seqs())
}

func TestPodRestartOverlapIsDeduplicated(t *testing.T) {
	store := outbox.NewMemoryStore()
	pub := publisherOver(store)
	cfg := testStreamConfig()
	cfg.RewindOnStart = 10

	registry := NewRegistry()
	e := newTestEngine("c1", "")
	registry.Register(e)
	sink := collect(t, e)

	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), models.EventTypeMessage, "x", "")
		require.NoError(t, err)
	}

	// First poller delivers everything, then "the pod restarts": a new
	// poller rewinds past the same events. The engine has already
	// yielded them, so nothing is re-sent.
	p1 := NewPoller(store, registry, cfg)
	p1.Start(context.Background())
	for i := 0; i < 3; i++ {
		waitForSend(t, sink)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p1.Stop(stopCtx))

	startPoller(t, store, registry)

	ev, err := pub.Publish(context.Background(), models.EventTypeMessage, "after-restart", "")
	require.NoError(t, err)
	got := waitForSend(t, sink)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, []int64{1, 2, 3, 4}, sink.seqs())
}
