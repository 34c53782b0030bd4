package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
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

func TestRedisBackedStores(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("status cache keeps the newest snapshot", func(t *testing.T) {
		c := NewRedisStatusCache(client, time.Minute)

		require.NoError(t, c.Set(ctx, &domain.Document{ID: "r1", OwnerID: "o", Status: domain.StatusProcessingSummary}))
		require.NoError(t, c.Set(ctx, &domain.Document{ID: "r1", OwnerID: "o", Status: domain.StatusCompleted, Summary: "s"}))
		require.NoError(t, c.Set(ctx, &domain.Document{ID: "r1", OwnerID: "o", Status: domain.StatusProcessingSummary}))

		doc, ok := c.Get(ctx, "r1")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCompleted, doc.Status)
		assert.Equal(t, "s", doc.Summary)

		require.NoError(t, c.Invalidate(ctx, "r1"))
		_, ok = c.Get(ctx, "r1")
		assert.False(t, ok)
	})

	t.Run("concurrent writers settle on the terminal snapshot", func(t *testing.T) {
		c := NewRedisStatusCache(client, time.Minute)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			status := domain.StatusProcessingSummary
			if i == 5 {
				status = domain.StatusCompleted
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Set(ctx, &domain.Document{ID: "r2", OwnerID: "o", Status: status})
			}()
		}
		wg.Wait()

		doc, ok := c.Get(ctx, "r2")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCompleted, doc.Status)
	})

	t.Run("key store releases only a matching value", func(t *testing.T) {
		store := NewRedisKeyStore(client, "test:")

		created, err := store.SetIfAbsent(ctx, "lease:d1", "worker-a", time.Minute)
		require.NoError(t, err)
		require.True(t, created)

		created, err = store.SetIfAbsent(ctx, "lease:d1", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, created)

		deleted, err := store.DeleteIfValue(ctx, "lease:d1", "worker-b")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = store.DeleteIfValue(ctx, "lease:d1", "worker-a")
		require.NoError(t, err)
		assert.True(t, deleted)

		exists, err := store.Exists(ctx, "lease:d1")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
