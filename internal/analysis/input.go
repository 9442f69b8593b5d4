// Package analysis holds the input processor that assembles the evaluation
// context consumed by the scoring pipeline, plus small statistics helpers
// shared by the analyzers and the rule updater.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

const (
	// historyLimit caps how many prior transactions feed the account profile.
	historyLimit = 20
	// historyWindow bounds how far back profiles look.
	historyWindow = 30 * 24 * time.Hour
)

// InputProcessor loads sender and receiver history and derives the account
// profiles used by the analyzers. It has no side effects.
type InputProcessor struct {
	store               domain.TransactionStore
	newAccountThreshold int
}

// NewInputProcessor constructs an InputProcessor. Senders with fewer than
// newAccountThreshold prior transactions are flagged as new accounts.
func NewInputProcessor(store domain.TransactionStore, newAccountThreshold int) *InputProcessor {
	if newAccountThreshold <= 0 {
		newAccountThreshold = 5
	}
	return &InputProcessor{store: store, newAccountThreshold: newAccountThreshold}
}

// Build assembles the evaluation context for one transaction. Histories are
// restricted to strictly-earlier transactions so the pending row being
// evaluated never influences its own profile.
func (p *InputProcessor) Build(ctx context.Context, tx domain.Transaction) (domain.EvaluationContext, error) {
	since := tx.Timestamp.Add(-historyWindow)

	// Fetch with slack: rows at or after the evaluated timestamp (the
	// pending row itself, or later submissions processed out of order) are
	// filtered below and must not eat into the profile limit.
	senderHist, err := p.store.SenderHistory(ctx, tx.SenderID, since, historyLimit*2)
	if err != nil {
		return domain.EvaluationContext{}, fmt.Errorf("op=input.sender_history: %w", err)
	}
	senderHist = priorOnly(senderHist, tx, historyLimit)

	receiverHist, err := p.store.ReceiverHistory(ctx, tx.ReceiverID, since, historyLimit*2)
	if err != nil {
		return domain.EvaluationContext{}, fmt.Errorf("op=input.receiver_history: %w", err)
	}
	receiverHist = priorOnly(receiverHist, tx, historyLimit)

	sender := domain.AccountProfile{
		ID:           tx.SenderID,
		History:      senderHist,
		IsNewAccount: len(senderHist) < p.newAccountThreshold,
	}
	for _, h := range senderHist {
		sender.AvgAmount += h.Amount
		if h.Amount > sender.MaxAmount {
			sender.MaxAmount = h.Amount
		}
		sender.RecentReceivers = append(sender.RecentReceivers, h.ReceiverID)
	}
	if len(senderHist) > 0 {
		sender.AvgAmount /= float64(len(senderHist))
	}

	receiver := domain.AccountProfile{
		ID:           tx.ReceiverID,
		History:      receiverHist,
		IsNewAccount: len(receiverHist) < p.newAccountThreshold,
	}

	return domain.EvaluationContext{Tx: tx, Sender: sender, Receiver: receiver}, nil
}

// priorOnly drops the transaction under evaluation and anything at or after
// its timestamp, then applies the profile limit.
func priorOnly(hist []domain.Transaction, tx domain.Transaction, limit int) []domain.Transaction {
	out := hist[:0]
	for _, h := range hist {
		if h.ID == tx.ID || !h.Timestamp.Before(tx.Timestamp) {
			continue
		}
		out = append(out, h)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
