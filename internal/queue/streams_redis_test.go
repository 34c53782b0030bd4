package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests are skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	options, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(options)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newStreamsQueue(t *testing.T, client *redis.Client, stream string, ackDeadline time.Duration) *StreamsQueue {
	t.Helper()
	q, err := NewStreamsQueue(context.Background(), client, StreamsConfig{
		Stream:      stream,
		Group:       "summarizers",
		Consumer:    "worker-test",
		AckDeadline: ackDeadline,
	}, zerolog.Nop())
	require.NoError(t, err)
	return q
}

func TestStreamsQueueAgainstRedis(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("unacked entries are redelivered with a higher attempt", func(t *testing.T) {
		q := newStreamsQueue(t, client, "jobs_redeliver", 200*time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, domain.Job{DocumentID: "doc-1", OwnerID: "owner-1"}))

		first, err := q.Receive(ctx, 5)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, "doc-1", first[0].Job.DocumentID)
		assert.Equal(t, 1, first[0].Attempt)

		again, err := q.Receive(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, again, "in-flight entries stay hidden until the ack deadline")

		time.Sleep(300 * time.Millisecond)
		redelivered, err := q.Receive(ctx, 5)
		require.NoError(t, err)
		require.Len(t, redelivered, 1)
		assert.Equal(t, first[0].ID, redelivered[0].ID)
		assert.Equal(t, 2, redelivered[0].Attempt)
		assert.Equal(t, 2, redelivered[0].Job.AttemptCount)

		require.NoError(t, q.Ack(ctx, redelivered[0]))
		backlog, err := q.Backlog(ctx)
		require.NoError(t, err)
		assert.Zero(t, backlog)

		time.Sleep(300 * time.Millisecond)
		after, err := q.Receive(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, after, "acked entries are never redelivered")
	})

	t.Run("dead lettered entries move to the dlq stream", func(t *testing.T) {
		q := newStreamsQueue(t, client, "jobs_dead", time.Minute)
		require.NoError(t, q.Enqueue(ctx, domain.Job{DocumentID: "doc-2", OwnerID: "owner-1"}))

		batch, err := q.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.NoError(t, q.DeadLetter(ctx, batch[0], "summarization attempts exhausted"))

		entries, err := client.XRange(ctx, "jobs_dead_dlq", "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "doc-2", entries[0].Values["document_id"])
		assert.Equal(t, "summarization attempts exhausted", entries[0].Values["error"])
		assert.Equal(t, batch[0].ID, entries[0].Values["stream_id"])

		backlog, err := q.Backlog(ctx)
		require.NoError(t, err)
		assert.Zero(t, backlog)
		pending, err := client.XPending(ctx, "jobs_dead", "summarizers").Result()
		require.NoError(t, err)
		assert.Zero(t, pending.Count)
	})

	t.Run("backlog counts queued and in-flight entries", func(t *testing.T) {
		q := newStreamsQueue(t, client, "jobs_backlog", time.Minute)
		require.NoError(t, q.EnqueueBatch(ctx, []domain.Job{
			{DocumentID: "doc-a", OwnerID: "owner-1"},
			{DocumentID: "doc-b", OwnerID: "owner-1"},
			{DocumentID: "doc-c", OwnerID: "owner-2"},
		}))

		batch, err := q.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, "doc-a", batch[0].Job.DocumentID)

		backlog, err := q.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), backlog)

		require.NoError(t, q.Ack(ctx, batch[0]))
		backlog, err = q.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), backlog)
	})

	t.Run("receive is capped at the maximum batch", func(t *testing.T) {
		q := newStreamsQueue(t, client, "jobs_cap", time.Minute)
		jobs := make([]domain.Job, MaxReceiveBatch+3)
		for i := range jobs {
			jobs[i] = domain.Job{DocumentID: fmt.Sprintf("doc-cap-%d", i), OwnerID: "owner-1"}
		}
		require.NoError(t, q.EnqueueBatch(ctx, jobs))

		batch, err := q.Receive(ctx, 50)
		require.NoError(t, err)
		assert.Len(t, batch, MaxReceiveBatch)
	})

	t.Run("unreadable entries are dead lettered on receive", func(t *testing.T) {
		q := newStreamsQueue(t, client, "jobs_broken", time.Minute)
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
			Stream: "jobs_broken",
			Values: map[string]any{"document_id": "doc-x", "job": "{"},
		}).Err())

		batch, err := q.Receive(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, batch)

		dlq, err := client.XLen(ctx, "jobs_broken_dlq").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), dlq)
		backlog, err := q.Backlog(ctx)
		require.NoError(t, err)
		assert.Zero(t, backlog)
	})
}
