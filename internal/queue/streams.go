package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

type StreamsConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	AckDeadline time.Duration
	Block       time.Duration
}

// StreamsQueue implements Producer and Receiver on a Redis Streams consumer group.
// Entries stay in the group's pending list until acked; entries idle longer than
// the ack deadline are reclaimed by the next Receive of any consumer.
type StreamsQueue struct {
	client      redis.UniversalClient
	stream      string
	dlqStream   string
	group       string
	consumer    string
	ackDeadline time.Duration
	block       time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewStreamsQueue(ctx context.Context, client redis.UniversalClient, cfg StreamsConfig, logger zerolog.Logger) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "summarization_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "summarizers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = 60 * time.Second
	}
	if cfg.Block <= 0 {
		cfg.Block = -1
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		ackDeadline: cfg.AckDeadline,
		block:       cfg.Block,
		logger:      logger,
		now:         time.Now,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"document_id": job.DocumentID,
			"job":         string(encoded),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, job := range jobs {
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = q.now().UTC()
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]any{
				"document_id": job.DocumentID,
				"job":         string(encoded),
			},
		})
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch to stream: %w", err)
	}
	return nil
}

// Receive reclaims abandoned entries first, then tops the batch up with new ones.
func (q *StreamsQueue) Receive(ctx context.Context, max int) ([]domain.Delivery, error) {
	max = clampBatch(max)

	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.ackDeadline,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}

	items := append([]redis.XMessage(nil), claimed...)
	if remaining := max - len(items); remaining > 0 {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    int64(remaining),
			Block:    q.block,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if strings.Contains(err.Error(), "NOGROUP") {
				if groupErr := q.ensureGroup(ctx); groupErr != nil {
					return nil, groupErr
				}
			} else {
				return nil, fmt.Errorf("xreadgroup: %w", err)
			}
		}
		for _, stream := range streams {
			items = append(items, stream.Messages...)
		}
	}

	deliveries := make([]domain.Delivery, 0, len(items))
	for _, item := range items {
		job, parseErr := parseStreamJob(item)
		if parseErr != nil {
			q.logger.Error().Err(parseErr).Str("stream_id", item.ID).Msg("unreadable stream entry")
			_ = q.sendToDLQ(ctx, item.ID, item.Values, parseErr.Error())
			_ = q.ackAndDelete(ctx, item.ID)
			continue
		}

		attempt, err := q.deliveryCount(ctx, item.ID)
		if err != nil {
			return deliveries, err
		}
		job.AttemptCount = attempt
		deliveries = append(deliveries, domain.Delivery{ID: item.ID, Job: job, Attempt: attempt})
	}
	return deliveries, nil
}

func (q *StreamsQueue) Ack(ctx context.Context, delivery domain.Delivery) error {
	return q.ackAndDelete(ctx, delivery.ID)
}

func (q *StreamsQueue) DeadLetter(ctx context.Context, delivery domain.Delivery, reason string) error {
	encoded, err := json.Marshal(delivery.Job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	values := map[string]any{
		"document_id": delivery.Job.DocumentID,
		"job":         string(encoded),
		"attempt":     delivery.Attempt,
	}
	if err := q.sendToDLQ(ctx, delivery.ID, values, reason); err != nil {
		return err
	}
	return q.ackAndDelete(ctx, delivery.ID)
}

// Backlog counts entries still in the stream. Acked entries are deleted, so this
// covers both undelivered and in-flight jobs.
func (q *StreamsQueue) Backlog(ctx context.Context) (int64, error) {
	length, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen: %w", err)
	}
	return length, nil
}

func (q *StreamsQueue) deliveryCount(ctx context.Context, streamID string) (int, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  streamID,
		End:    streamID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return 1, nil
	}
	return int(pending[0].RetryCount), nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, streamID string, values map[string]any, reason string) error {
	entry := make(map[string]any, len(values)+3)
	for key, value := range values {
		entry[key] = value
	}
	entry["stream_id"] = streamID
	entry["error"] = reason
	entry["moved_at"] = q.now().UTC().Format(time.RFC3339Nano)

	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: entry}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func parseStreamJob(item redis.XMessage) (domain.Job, error) {
	raw, ok := item.Values["job"]
	if !ok {
		return domain.Job{}, errors.New("missing field job")
	}
	var payload string
	switch casted := raw.(type) {
	case string:
		payload = casted
	case []byte:
		payload = string(casted)
	default:
		payload = fmt.Sprintf("%v", casted)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	if strings.TrimSpace(job.DocumentID) == "" {
		return domain.Job{}, errors.New("job without document_id")
	}
	return job, nil
}
