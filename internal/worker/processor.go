// Package worker drives the scoring pipeline for one dequeued task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/analysis"
	"github.com/finsentry/fraud-risk-service/internal/analysis/content"
	"github.com/finsentry/fraud-risk-service/internal/analysis/graphtemporal"
	"github.com/finsentry/fraud-risk-service/internal/analysis/risk"
	"github.com/finsentry/fraud-risk-service/internal/domain"
	"go.opentelemetry.io/otel"
)

// Processor evaluates one transaction per delivery: load context, run the
// two analyzers, combine, finalize. It implements the consumer's Handler
// contract: a nil return acks the delivery, an error requeues it.
type Processor struct {
	store   domain.TransactionStore
	input   *analysis.InputProcessor
	graph   *graphtemporal.Analyzer
	content *content.Analyzer
	engine  *risk.Engine
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(store domain.TransactionStore, input *analysis.InputProcessor,
	graph *graphtemporal.Analyzer, contentAnalyzer *content.Analyzer, engine *risk.Engine) *Processor {
	return &Processor{
		store:   store,
		input:   input,
		graph:   graph,
		content: contentAnalyzer,
		engine:  engine,
	}
}

type gtResult struct {
	score   float64
	details map[string]any
	err     error
}

// Process evaluates the transaction named by the payload. Permanent problems
// (empty id, unknown id, already-finalized row) are swallowed after logging
// so the delivery is acked; transient failures propagate for requeue.
func (p *Processor) Process(ctx context.Context, payload domain.TaskPayload) error {
	tracer := otel.Tracer("worker.processor")
	ctx, span := tracer.Start(ctx, "ProcessTransaction")
	defer span.End()

	if payload.TransactionID == "" {
		slog.Error("dropping task with empty transaction id")
		return nil
	}
	lg := slog.With(slog.String("transaction_id", payload.TransactionID))

	tx, err := p.store.Get(ctx, payload.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Broker outran the store; nothing to retry against.
			lg.Warn("task references unknown transaction, acking")
			return nil
		}
		return fmt.Errorf("op=worker.get: %w", err)
	}
	if tx.Processed {
		lg.Info("transaction already processed, acking redelivery")
		return nil
	}

	ec, err := p.input.Build(ctx, tx)
	if err != nil {
		return fmt.Errorf("op=worker.context: %w", err)
	}

	// The graph-temporal analyzer does store I/O; the content analyzer is
	// pure. Run them side by side.
	gtCh := make(chan gtResult, 1)
	go func() {
		score, details, err := p.graph.Analyze(ctx, ec)
		gtCh <- gtResult{score: score, details: details, err: err}
	}()
	cScore, cDetails := p.content.Analyze(tx)
	gt := <-gtCh
	if gt.err != nil {
		return fmt.Errorf("op=worker.graph_temporal: %w", gt.err)
	}

	verdict, err := p.engine.Evaluate(ctx, ec, gt.score, gt.details, cScore, cDetails)
	if err != nil {
		return fmt.Errorf("op=worker.risk: %w", err)
	}

	res := domain.EvaluationResult{
		RiskScore:            verdict.RiskScore,
		GraphTemporalScore:   gt.score,
		ContentAnalysisScore: cScore,
		Status:               verdict.Status,
		RiskDetails:          verdict.Details,
	}
	if err := p.store.Finalize(ctx, tx.ID, res); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			// A concurrent redelivery won the conditional update.
			lg.Info("transaction finalized concurrently, acking")
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			lg.Warn("transaction vanished before finalize, acking")
			return nil
		}
		return fmt.Errorf("op=worker.finalize: %w", err)
	}

	observability.ObserveDecision(string(verdict.Status), verdict.RiskScore)
	lg.Info("transaction evaluated",
		slog.String("status", string(verdict.Status)),
		slog.Float64("risk_score", verdict.RiskScore),
		slog.Float64("graph_temporal_score", gt.score),
		slog.Float64("content_analysis_score", cScore))
	return nil
}
