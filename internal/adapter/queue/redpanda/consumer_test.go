package redpanda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

func TestNewConsumerRejectsMissingBrokers(t *testing.T) {
	t.Parallel()
	_, err := NewConsumer(context.Background(), ConsumerConfig{GroupID: "g", Topic: "t"}, nil)
	assert.Error(t, err)
}

func TestNewConsumerRejectsMissingGroup(t *testing.T) {
	t.Parallel()
	_, err := NewConsumer(context.Background(), ConsumerConfig{Brokers: []string{"localhost:19092"}, Topic: "t"}, nil)
	assert.Error(t, err)
}

func TestRedeliveryCount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, redeliveryCount(&kgo.Record{}))
	assert.Equal(t, 3, redeliveryCount(&kgo.Record{Headers: []kgo.RecordHeader{
		{Key: "transaction_id", Value: []byte("tx-1")},
		{Key: redeliveryHeader, Value: []byte("3")},
	}}))
	assert.Equal(t, 0, redeliveryCount(&kgo.Record{Headers: []kgo.RecordHeader{
		{Key: redeliveryHeader, Value: []byte("many")},
	}}))
}

func TestDialBackOffPolicy(t *testing.T) {
	t.Parallel()
	bo := newDialBackOff()
	assert.Equal(t, 5*time.Second, bo.InitialInterval)
	assert.Equal(t, 25*time.Second, bo.MaxInterval)
}

type stubHandler struct{ err error }

func (s stubHandler) Process(context.Context, domain.TaskPayload) error { return s.err }

// settlementConsumer wires a Consumer whose mark and produce calls are
// captured instead of hitting a broker.
func settlementConsumer(handlerErr, produceErr error) (*Consumer, *int, *[]*kgo.Record) {
	marked := 0
	var produced []*kgo.Record
	c := &Consumer{
		handler: stubHandler{err: handlerErr},
		cfg: ConsumerConfig{
			Topic:             "tasks",
			Workers:           1,
			JobTimeout:        time.Second,
			RedeliveryCeiling: 5,
		},
		mark: func(records ...*kgo.Record) { marked += len(records) },
		produce: func(_ context.Context, record *kgo.Record) error {
			produced = append(produced, record)
			return produceErr
		},
	}
	return c, &marked, &produced
}

func taskRecord(headers ...kgo.RecordHeader) *kgo.Record {
	return &kgo.Record{
		Topic:   "tasks",
		Key:     []byte("tx-1"),
		Value:   []byte(`{"transaction_id":"tx-1"}`),
		Headers: headers,
	}
}

func TestHandleRecordMarksSuccessWithoutRequeue(t *testing.T) {
	t.Parallel()
	c, marked, produced := settlementConsumer(nil, nil)

	c.handleRecord(context.Background(), 0, taskRecord())

	assert.Equal(t, 1, *marked)
	assert.Empty(t, *produced)
}

func TestHandleRecordMarksAfterSuccessfulRequeue(t *testing.T) {
	t.Parallel()
	c, marked, produced := settlementConsumer(errors.New("store down"), nil)

	c.handleRecord(context.Background(), 0, taskRecord())

	assert.Equal(t, 1, *marked)
	require.Len(t, *produced, 1)
	next := (*produced)[0]
	assert.Equal(t, "tasks", next.Topic)
	assert.Equal(t, 1, redeliveryCount(next))
}

func TestHandleRecordLeavesFailedRequeueUnmarked(t *testing.T) {
	t.Parallel()
	c, marked, produced := settlementConsumer(errors.New("store down"), errors.New("broker down"))

	c.handleRecord(context.Background(), 0, taskRecord())

	// The offset stays uncommitted so the group redelivers the record.
	assert.Equal(t, 0, *marked)
	assert.Len(t, *produced, 1)
}

func TestHandleRecordDeadLettersAtCeiling(t *testing.T) {
	t.Parallel()
	c, marked, produced := settlementConsumer(errors.New("store down"), nil)

	c.handleRecord(context.Background(), 0, taskRecord(
		kgo.RecordHeader{Key: redeliveryHeader, Value: []byte("5")},
	))

	assert.Equal(t, 1, *marked)
	require.Len(t, *produced, 1)
	assert.Equal(t, "tasks"+DLQSuffix, (*produced)[0].Topic)
}

func TestHandleRecordDropsPoisonPayload(t *testing.T) {
	t.Parallel()
	c, marked, produced := settlementConsumer(nil, nil)

	c.handleRecord(context.Background(), 0, &kgo.Record{Topic: "tasks", Value: []byte("{")})

	assert.Equal(t, 1, *marked)
	assert.Empty(t, *produced)
}
