// Package redpanda provides the Redpanda/Kafka task queue integration.
//
// The producer publishes evaluation tasks transactionally; the consumer
// drains them with a fixed worker pool, requeueing transient failures by
// re-producing the record with a redelivery header and dead-lettering jobs
// that exceed the redelivery ceiling.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

// DLQSuffix is appended to the task topic to form the dead-letter topic.
const DLQSuffix = ".dlq"

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string

	// txnCh serializes transactions; franz-go allows one in flight per client.
	txnCh chan struct{}
}

// NewProducer constructs a transactional Producer and ensures the task and
// dead-letter topics exist. Broker connectivity is verified with retries; a
// broker that stays unreachable surfaces as domain.ErrBrokerUnavailable.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.producer: no seed brokers provided")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID("fraud-risk-producer"),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.producer: %w", err)
	}

	ping := func() error { return client.Ping(ctx) }
	if err := backoff.Retry(ping, dialBackoff(ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("op=redpanda.producer: ping: %w: %w", domain.ErrBrokerUnavailable, err)
	}

	if err := createTopicIfNotExists(ctx, client, topic, 8, 1); err != nil {
		slog.Warn("task topic creation failed, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}
	if err := createTopicIfNotExists(ctx, client, topic+DLQSuffix, 1, 1); err != nil {
		slog.Warn("dlq topic creation failed, it may already exist",
			slog.String("topic", topic+DLQSuffix), slog.Any("error", err))
	}

	slog.Info("redpanda producer ready", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Producer{client: client, topic: topic, txnCh: make(chan struct{}, 1)}, nil
}

// Enqueue publishes one evaluation task keyed by transaction id so that
// redeliveries of the same transaction stay on one partition.
func (p *Producer) Enqueue(ctx domain.Context, payload domain.TaskPayload) error {
	select {
	case p.txnCh <- struct{}{}:
		defer func() { <-p.txnCh }()
	case <-ctx.Done():
		return ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=redpanda.enqueue: marshal: %w", err)
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=redpanda.enqueue: begin: %w: %w", domain.ErrBrokerUnavailable, err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(payload.TransactionID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "transaction_id", Value: []byte(payload.TransactionID)},
		},
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction failed", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=redpanda.enqueue: produce: %w: %w", domain.ErrBrokerUnavailable, err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=redpanda.enqueue: commit: %w: %w", domain.ErrBrokerUnavailable, err)
	}

	observability.JobsEnqueuedTotal.Inc()
	slog.Info("task enqueued",
		slog.String("transaction_id", payload.TransactionID),
		slog.String("topic", p.topic))
	return nil
}

// Close shuts the underlying client down.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

var _ domain.Queue = (*Producer)(nil)

const dialAttempts = 5

// newDialBackOff is the broker dial retry policy: 5s first wait, growing
// toward a 25s ceiling.
func newDialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 25 * time.Second
	return bo
}

// dialBackoff bounds broker dial retries for producers and consumers.
func dialBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(newDialBackOff(), dialAttempts), ctx)
}
