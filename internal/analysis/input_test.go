package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsentry/fraud-risk-service/internal/adapter/repo/memory"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

var inputBase = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestBuildDerivesSenderProfile(t *testing.T) {
	t.Parallel()
	store := memory.NewStore()
	amounts := []float64{100, 200, 300, 400, 500, 600}
	for i, amt := range amounts {
		require.NoError(t, store.Insert(context.Background(), domain.Transaction{
			ID: fmt.Sprintf("p%d", i), SenderID: "alice", ReceiverID: fmt.Sprintf("shop%d", i),
			Amount: amt, Timestamp: inputBase.Add(-time.Duration(i+1) * 24 * time.Hour),
		}))
	}
	tx := domain.Transaction{ID: "txn", SenderID: "alice", ReceiverID: "bob", Amount: 50, Timestamp: inputBase}

	ec, err := NewInputProcessor(store, 5).Build(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, "alice", ec.Sender.ID)
	assert.Len(t, ec.Sender.History, 6)
	assert.False(t, ec.Sender.IsNewAccount)
	assert.InDelta(t, 350, ec.Sender.AvgAmount, 1e-9)
	assert.Equal(t, 600.0, ec.Sender.MaxAmount)
	assert.Len(t, ec.Sender.RecentReceivers, 6)
	assert.Contains(t, ec.Sender.RecentReceivers, "shop3")

	assert.Equal(t, "bob", ec.Receiver.ID)
	assert.True(t, ec.Receiver.IsNewAccount)
	assert.Empty(t, ec.Receiver.History)
}

func TestBuildExcludesPendingRowAndLaterRows(t *testing.T) {
	t.Parallel()
	store := memory.NewStore()
	tx := domain.Transaction{ID: "txn", SenderID: "alice", ReceiverID: "bob", Amount: 50, Timestamp: inputBase}

	// The row under evaluation is already inserted when the worker runs.
	require.NoError(t, store.Insert(context.Background(), tx))
	// A later submission processed out of order must not count either.
	require.NoError(t, store.Insert(context.Background(), domain.Transaction{
		ID: "later", SenderID: "alice", ReceiverID: "bob", Amount: 999, Timestamp: inputBase.Add(time.Minute),
	}))
	require.NoError(t, store.Insert(context.Background(), domain.Transaction{
		ID: "prior", SenderID: "alice", ReceiverID: "bob", Amount: 100, Timestamp: inputBase.Add(-time.Hour),
	}))

	ec, err := NewInputProcessor(store, 5).Build(context.Background(), tx)
	require.NoError(t, err)

	require.Len(t, ec.Sender.History, 1)
	assert.Equal(t, "prior", ec.Sender.History[0].ID)
	assert.True(t, ec.Sender.IsNewAccount)
}

func TestBuildFlagsNewAccountUnderThreshold(t *testing.T) {
	t.Parallel()
	store := memory.NewStore()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Insert(context.Background(), domain.Transaction{
			ID: fmt.Sprintf("p%d", i), SenderID: "alice", ReceiverID: "bob",
			Amount: 100, Timestamp: inputBase.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	tx := domain.Transaction{ID: "txn", SenderID: "alice", ReceiverID: "bob", Amount: 50, Timestamp: inputBase}

	ec, err := NewInputProcessor(store, 5).Build(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, ec.Sender.IsNewAccount, "4 priors is under the threshold of 5")

	ec, err = NewInputProcessor(store, 4).Build(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, ec.Sender.IsNewAccount)
}
