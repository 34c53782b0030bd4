package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/cache"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/repository"
)

type scriptedSummarizer struct {
	mu      sync.Mutex
	calls   int
	fail    int
	delay   time.Duration
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (s *scriptedSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	current := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if call <= s.fail {
		return "", errors.New("summarization capability timeout")
	}
	return "summary of: " + text, nil
}

func (s *scriptedSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type processorFixture struct {
	repo       *repository.MemoryDocumentsRepository
	queue      *queue.LocalQueue
	cache      *cache.MemoryStatusCache
	summarizer *scriptedSummarizer
	processor  *Processor
}

func newProcessorFixture(visibility time.Duration) *processorFixture {
	f := &processorFixture{
		repo:       repository.NewMemoryDocumentsRepository(),
		queue:      queue.NewLocalQueue(visibility, zerolog.Nop()),
		cache:      cache.NewMemoryStatusCache(cache.Config{TTL: time.Minute}),
		summarizer: &scriptedSummarizer{},
	}
	f.processor = NewProcessor(f.repo, f.queue, f.summarizer, f.cache, cache.NewMemoryKeyStore(), ProcessorConfig{
		MaxAttempts: 3,
		LeaseTTL:    time.Minute,
	}, zerolog.Nop())
	return f
}

func (f *processorFixture) seed(t *testing.T, id string, status domain.DocumentStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.repo.Create(context.Background(), &domain.Document{
		ID:            id,
		OwnerID:       "owner-1",
		DisplayName:   id,
		FileType:      domain.FileTypeImage,
		Status:        status,
		ExtractedText: "text of " + id,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, f.queue.Enqueue(context.Background(), domain.Job{DocumentID: id, OwnerID: "owner-1"}))
}

func (f *processorFixture) receiveOne(t *testing.T) domain.Delivery {
	t.Helper()
	batch, err := f.queue.Receive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	return batch[0]
}

func (f *processorFixture) status(t *testing.T, id string) *domain.Document {
	t.Helper()
	doc, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func TestProcessCompletesDocument(t *testing.T) {
	f := newProcessorFixture(time.Minute)
	f.seed(t, "d1", domain.StatusProcessingSummary)

	outcome, err := f.processor.Process(context.Background(), f.receiveOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	doc := f.status(t, "d1")
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, "summary of: text of d1", doc.Summary)

	cached, ok := f.cache.Get(context.Background(), "d1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, cached.Status)

	backlog, err := f.queue.Backlog(context.Background())
	require.NoError(t, err)
	assert.Zero(t, backlog)
}

func TestProcessAcksTerminalDocumentsWithoutSummarizing(t *testing.T) {
	for _, status := range []domain.DocumentStatus{domain.StatusCompleted, domain.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newProcessorFixture(time.Minute)
			f.seed(t, "d1", status)

			outcome, err := f.processor.Process(context.Background(), f.receiveOne(t))
			require.NoError(t, err)
			assert.Equal(t, OutcomeNoop, outcome)
			assert.Zero(t, f.summarizer.callCount())
			assert.Equal(t, status, f.status(t, "d1").Status)

			backlog, _ := f.queue.Backlog(context.Background())
			assert.Zero(t, backlog)
		})
	}
}

func TestProcessDeadLettersOrphanJobs(t *testing.T) {
	f := newProcessorFixture(time.Minute)
	require.NoError(t, f.queue.Enqueue(context.Background(), domain.Job{DocumentID: "ghost"}))

	outcome, err := f.processor.Process(context.Background(), f.receiveOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphan, outcome)
	assert.Equal(t, 1, f.queue.DLQSize())
}

func TestProcessLeavesJobsForDocumentsNotReady(t *testing.T) {
	f := newProcessorFixture(time.Minute)
	f.seed(t, "d1", domain.StatusProcessingExtraction)

	outcome, err := f.processor.Process(context.Background(), f.receiveOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotReady, outcome)

	backlog, _ := f.queue.Backlog(context.Background())
	assert.EqualValues(t, 1, backlog)
	assert.Zero(t, f.summarizer.callCount())
}

func TestProcessDeadLettersAfterMaxAttempts(t *testing.T) {
	f := newProcessorFixture(5 * time.Millisecond)
	f.summarizer.fail = 100
	f.seed(t, "d1", domain.StatusProcessingSummary)
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		delivery := f.receiveOne(t)
		require.Equal(t, attempt, delivery.Attempt)

		outcome, err := f.processor.Process(ctx, delivery)
		if attempt < 3 {
			assert.Equal(t, OutcomeRetry, outcome)
			var failure *domain.SummarizationFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, domain.StatusProcessingSummary, f.status(t, "d1").Status)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
	}

	doc := f.status(t, "d1")
	assert.Equal(t, domain.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "summarization attempts exhausted")
	assert.Equal(t, 1, f.queue.DLQSize())
	assert.Equal(t, 3, f.summarizer.callCount())

	time.Sleep(10 * time.Millisecond)
	again, err := f.queue.Receive(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, again, "dead-lettered job must not be redelivered")
}

func TestProcessRecoversAfterTransientFailure(t *testing.T) {
	f := newProcessorFixture(5 * time.Millisecond)
	f.summarizer.fail = 1
	f.seed(t, "d1", domain.StatusProcessingSummary)

	outcome, _ := f.processor.Process(context.Background(), f.receiveOne(t))
	assert.Equal(t, OutcomeRetry, outcome)

	time.Sleep(10 * time.Millisecond)
	outcome, err := f.processor.Process(context.Background(), f.receiveOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, domain.StatusCompleted, f.status(t, "d1").Status)
}

func TestProcessFailsDeliveriesBeyondMaxAttempts(t *testing.T) {
	f := newProcessorFixture(time.Minute)
	f.seed(t, "d1", domain.StatusProcessingSummary)
	delivery := f.receiveOne(t)
	delivery.Attempt = 4

	outcome, err := f.processor.Process(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, f.summarizer.callCount())
	assert.Equal(t, domain.StatusFailed, f.status(t, "d1").Status)
}

func TestDuplicateDeliveryProducesOneSummary(t *testing.T) {
	f := newProcessorFixture(5 * time.Millisecond)
	f.summarizer.delay = 20 * time.Millisecond
	f.seed(t, "d1", domain.StatusProcessingSummary)
	// The same job delivered twice, as at-least-once delivery allows.
	require.NoError(t, f.queue.Enqueue(context.Background(), domain.Job{DocumentID: "d1", OwnerID: "owner-1"}))

	batch, err := f.queue.Receive(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	outcomes := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i, delivery := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], _ = f.processor.Process(context.Background(), delivery)
		}()
	}
	wg.Wait()

	assert.Contains(t, outcomes, OutcomeCompleted)
	assert.Subset(t, []Outcome{OutcomeCompleted, OutcomeLeaseHeld, OutcomeNoop}, outcomes)
	assert.Equal(t, 1, f.summarizer.callCount())
	summary := f.status(t, "d1").Summary

	time.Sleep(10 * time.Millisecond)
	redelivered, err := f.queue.Receive(context.Background(), 5)
	require.NoError(t, err)
	for _, delivery := range redelivered {
		outcome, err := f.processor.Process(context.Background(), delivery)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, outcome)
	}
	assert.Equal(t, summary, f.status(t, "d1").Summary)
	assert.Equal(t, 1, f.summarizer.callCount())

	backlog, _ := f.queue.Backlog(context.Background())
	assert.Zero(t, backlog)
}

func TestProcessTreatsLostRaceAsNoop(t *testing.T) {
	f := newProcessorFixture(time.Minute)
	f.seed(t, "d1", domain.StatusProcessingSummary)
	delivery := f.receiveOne(t)

	racing := &racingSummarizer{repo: f.repo}
	f.processor.summarizer = racing

	outcome, err := f.processor.Process(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, "written first", f.status(t, "d1").Summary)
}

// racingSummarizer completes the document itself before returning, standing in
// for a second worker that won the compare-and-set.
type racingSummarizer struct {
	repo *repository.MemoryDocumentsRepository
}

func (r *racingSummarizer) Summarize(ctx context.Context, _ string) (string, error) {
	_, err := r.repo.Transition(ctx, "d1", domain.StatusProcessingSummary, domain.Update{
		Status:  domain.StatusCompleted,
		Summary: "written first",
	})
	if err != nil {
		return "", fmt.Errorf("race setup: %w", err)
	}
	return "written second", nil
}

// takeoverSummarizer simulates this worker's lease expiring mid-call and a
// second worker taking it.
type takeoverSummarizer struct {
	leases *cache.MemoryKeyStore
	key    string
}

func (s takeoverSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if err := s.leases.Delete(ctx, s.key); err != nil {
		return "", err
	}
	if _, err := s.leases.SetIfAbsent(ctx, s.key, "second-worker", time.Minute); err != nil {
		return "", err
	}
	return "summary of: " + text, nil
}

func TestProcessReleasesOnlyItsOwnLease(t *testing.T) {
	f := newProcessorFixture(time.Minute)
	leases := cache.NewMemoryKeyStore()
	f.processor = NewProcessor(f.repo, f.queue, takeoverSummarizer{leases: leases, key: "lease:d1"}, f.cache, leases, ProcessorConfig{
		MaxAttempts: 3,
		LeaseTTL:    time.Minute,
	}, zerolog.Nop())
	f.seed(t, "d1", domain.StatusProcessingSummary)

	outcome, err := f.processor.Process(context.Background(), f.receiveOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	held, err := leases.Exists(context.Background(), "lease:d1")
	require.NoError(t, err)
	assert.True(t, held, "the second worker's lease must survive the first worker's release")
}
