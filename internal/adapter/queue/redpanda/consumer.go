package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

const redeliveryHeader = "redelivery"

// Handler processes one evaluation task. Returning nil acks the record.
// Returning an error marks the delivery failed; the consumer then requeues
// the record or dead-letters it once the redelivery ceiling is reached.
// Handlers are expected to swallow permanent failures (malformed ids,
// missing rows, already-finalized transactions) after logging them.
type Handler interface {
	Process(ctx context.Context, payload domain.TaskPayload) error
}

// ConsumerConfig bundles the consumer tunables.
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	Topic             string
	Workers           int
	JobTimeout        time.Duration
	RedeliveryCeiling int
}

// Consumer drains the task topic with a fixed pool of workers.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	cfg     ConsumerConfig

	jobQueue chan *kgo.Record
	shutdown chan struct{}

	// mark and produce default to the kgo client; split out so record
	// settlement can be exercised without a broker.
	mark    func(records ...*kgo.Record)
	produce func(ctx context.Context, record *kgo.Record) error
}

// NewConsumer constructs a group Consumer and ensures the topics exist.
func NewConsumer(ctx context.Context, cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.consumer: no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("op=redpanda.consumer: missing group id")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.RedeliveryCeiling <= 0 {
		cfg.RedeliveryCeiling = 5
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxWait(2*time.Second),

		// Offsets advance only for records we explicitly mark, so an
		// unprocessed record is redelivered after a crash.
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.consumer: %w", err)
	}

	ping := func() error { return client.Ping(ctx) }
	if err := backoff.Retry(ping, dialBackoff(ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("op=redpanda.consumer: ping: %w: %w", domain.ErrBrokerUnavailable, err)
	}

	if err := createTopicIfNotExists(ctx, client, cfg.Topic, 8, 1); err != nil {
		slog.Warn("task topic creation failed, it may already exist",
			slog.String("topic", cfg.Topic), slog.Any("error", err))
	}
	if err := createTopicIfNotExists(ctx, client, cfg.Topic+DLQSuffix, 1, 1); err != nil {
		slog.Warn("dlq topic creation failed, it may already exist",
			slog.String("topic", cfg.Topic+DLQSuffix), slog.Any("error", err))
	}

	slog.Info("redpanda consumer ready",
		slog.Any("brokers", cfg.Brokers),
		slog.String("group_id", cfg.GroupID),
		slog.String("topic", cfg.Topic),
		slog.Int("workers", cfg.Workers))

	c := &Consumer{
		client:   client,
		handler:  handler,
		cfg:      cfg,
		jobQueue: make(chan *kgo.Record, cfg.Workers*2),
		shutdown: make(chan struct{}),
	}
	c.mark = client.MarkCommitRecords
	c.produce = func(ctx context.Context, record *kgo.Record) error {
		return client.ProduceSync(ctx, record).FirstErr()
	}
	return c, nil
}

// Start runs the fetch loop and worker pool until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	for i := 0; i < c.cfg.Workers; i++ {
		go c.worker(ctx, i)
	}
	slog.Info("worker pool started", slog.Int("workers", c.cfg.Workers))

	for {
		select {
		case <-ctx.Done():
			close(c.shutdown)
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			close(c.shutdown)
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			fatal := false
			for _, fe := range errs {
				if ctx.Err() != nil {
					fatal = true
					break
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			if fatal {
				close(c.shutdown)
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.jobQueue <- record:
			case <-ctx.Done():
			}
		})
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case record := <-c.jobQueue:
			if record == nil {
				return
			}
			c.handleRecord(ctx, id, record)
		}
	}
}

// handleRecord runs one delivery through the handler with a per-job deadline
// and settles the record: ack on success, requeue or dead-letter on failure.
func (c *Consumer) handleRecord(ctx context.Context, workerID int, record *kgo.Record) {
	observability.JobsProcessing.Inc()
	defer observability.JobsProcessing.Dec()

	var payload domain.TaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		// Poison message: drop it, never redeliver.
		slog.Error("dropping malformed task payload",
			slog.Int("worker_id", workerID),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		c.mark(record)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	err := c.handler.Process(jobCtx, payload)
	cancel()

	if err == nil {
		observability.JobsCompletedTotal.Inc()
		c.mark(record)
		return
	}

	slog.Warn("task failed, requeueing",
		slog.Int("worker_id", workerID),
		slog.String("transaction_id", payload.TransactionID),
		slog.Any("error", err))
	if c.requeue(ctx, record, payload.TransactionID, err) {
		c.mark(record)
	}
}

// requeue re-produces the record with its redelivery count incremented,
// routing it to the dead-letter topic once the ceiling is exceeded. It
// reports whether the hand-off succeeded; only then may the original offset
// be marked committed.
func (c *Consumer) requeue(ctx context.Context, record *kgo.Record, txnID string, cause error) bool {
	attempt := redeliveryCount(record) + 1

	topic := c.cfg.Topic
	if attempt > c.cfg.RedeliveryCeiling {
		topic = c.cfg.Topic + DLQSuffix
	}

	next := &kgo.Record{
		Topic: topic,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: "transaction_id", Value: []byte(txnID)},
			{Key: redeliveryHeader, Value: []byte(strconv.Itoa(attempt))},
			{Key: "last_error", Value: []byte(cause.Error())},
		},
	}

	if err := c.produce(ctx, next); err != nil {
		// Leave the offset unmarked so the group redelivers the record after
		// a rebalance instead of losing the job.
		slog.Error("requeue produce failed",
			slog.String("transaction_id", txnID),
			slog.String("topic", topic),
			slog.Any("error", err))
		return false
	}

	if topic == c.cfg.Topic {
		observability.JobsRequeuedTotal.Inc()
		slog.Info("task requeued",
			slog.String("transaction_id", txnID),
			slog.Int("attempt", attempt))
	} else {
		observability.JobsDeadLetteredTotal.Inc()
		slog.Error("task dead-lettered",
			slog.String("transaction_id", txnID),
			slog.Int("attempt", attempt),
			slog.String("topic", topic))
	}
	return true
}

func redeliveryCount(record *kgo.Record) int {
	for _, h := range record.Headers {
		if h.Key == redeliveryHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

// Close shuts the underlying client down.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
