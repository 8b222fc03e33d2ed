package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"foresight/internal/adapters/config"
	redisclient "foresight/internal/adapters/redis"
	"foresight/internal/domain/research"
)

func setupBus(t *testing.T) *JobEventBus {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("no test configuration: %v", err)
	}
	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewJobEventBus(client.Client())
}

func TestChannelFor(t *testing.T) {
	id := uuid.MustParse("7f9c24e5-2f83-4b4c-9f3a-1c2d3e4f5a6b")
	require.Equal(t, "research:jobs:7f9c24e5-2f83-4b4c-9f3a-1c2d3e4f5a6b", ChannelFor(id))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := setupBus(t)
	ctx := context.Background()
	jobID := uuid.New()

	events, cancel, err := bus.Subscribe(ctx, jobID)
	require.NoError(t, err)
	defer cancel()

	published := research.JobEvent{
		JobID:     jobID,
		Type:      research.EventAnalysisChunk,
		Iteration: 2,
		Chunk:     "delta",
	}
	require.NoError(t, bus.Publish(ctx, published))

	select {
	case got := <-events:
		require.Equal(t, published, got)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job event")
	}
}

func TestSubscribeIsolatedPerJob(t *testing.T) {
	bus := setupBus(t)
	ctx := context.Background()

	events, cancel, err := bus.Subscribe(ctx, uuid.New())
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, research.JobEvent{JobID: uuid.New(), Type: research.EventProgress}))

	select {
	case event := <-events:
		t.Fatalf("received event for another job: %+v", event)
	case <-time.After(500 * time.Millisecond):
	}
}
