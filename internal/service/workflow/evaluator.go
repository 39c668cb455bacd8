package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
	"github.com/hugo-lorenzo-mato/taskforge/internal/vars"
)

// DefaultPreviewChars bounds each worker output preview sent to the oracle.
const DefaultPreviewChars = 200

// Evaluator decides whether a phase is complete and whether the task may
// move on. Success and failure are decided locally; only partial phases
// reach the oracle.
type Evaluator struct {
	oracle       core.Oracle
	logger       *logging.Logger
	previewChars int
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithPreviewChars sets the output preview length.
func WithPreviewChars(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.previewChars = n
		}
	}
}

// NewEvaluator creates an evaluator. A nil oracle always uses the heuristic.
func NewEvaluator(oracle core.Oracle, logger *logging.Logger, opts ...EvaluatorOption) *Evaluator {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Evaluator{oracle: oracle, logger: logger, previewChars: DefaultPreviewChars}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate judges res. cctx may be nil.
func (e *Evaluator) Evaluate(ctx context.Context, phase *core.Phase, res core.PhaseResult, cctx *CoordinatorContext) core.PhaseEvaluation {
	switch res.Status {
	case core.PhaseSuccess:
		return core.PhaseEvaluation{
			Completed:    true,
			CanProceed:   true,
			QualityScore: 1.0,
			Reason:       "all workers succeeded",
		}
	case core.PhasePartial:
		// handled below
	default:
		return core.PhaseEvaluation{
			Completed:    false,
			CanProceed:   false,
			QualityScore: 0,
			RetryTargets: res.NonSucceeded(),
			Reason:       fmt.Sprintf("phase %s", res.Status),
		}
	}

	if e.oracle == nil {
		return Heuristic(res)
	}

	resp, err := e.oracle.Ask(ctx, core.OracleRequest{
		Role:    core.RoleEvaluate,
		Context: e.evaluationContext(phase, res, cctx),
	})
	if err != nil {
		e.logger.Warn("evaluation oracle failed, using heuristic", "phase", phase.Ref(), "error", err)
		return Heuristic(res)
	}
	if cctx != nil {
		cctx.AddTokens(resp.TokensUsed)
	}

	eval, err := decodeEvaluation(resp.Text, res)
	if err != nil {
		e.logger.Warn("evaluation response unusable, using heuristic", "phase", phase.Ref(), "error", err)
		return Heuristic(res)
	}
	return eval
}

// Heuristic is the deterministic verdict used when the oracle cannot help:
// the quality score is the share of succeeded workers and the phase counts
// as complete from one half upwards.
func Heuristic(res core.PhaseResult) core.PhaseEvaluation {
	total := len(res.Order)
	if total == 0 {
		return core.PhaseEvaluation{Completed: true, CanProceed: true, QualityScore: 1.0, Reason: "no workers"}
	}
	succeeded := total - len(res.NonSucceeded())
	score := float64(succeeded) / float64(total)
	done := score >= 0.5
	return core.PhaseEvaluation{
		Completed:    done,
		CanProceed:   done,
		QualityScore: score,
		RetryTargets: res.NonSucceeded(),
		Reason:       fmt.Sprintf("%d/%d workers succeeded", succeeded, total),
	}
}

func (e *Evaluator) evaluationContext(phase *core.Phase, res core.PhaseResult, cctx *CoordinatorContext) map[string]any {
	workers := make([]any, 0, len(res.Order))
	for _, key := range res.Order {
		wr := res.WorkerResults[key]
		workers = append(workers, map[string]any{
			"name":    key,
			"status":  string(wr.Status),
			"error":   wr.ErrorText(),
			"preview": service.Truncate(vars.Stringify(wr.Output), e.previewChars),
		})
	}

	out := map[string]any{
		"phase":      phase.Index,
		"phase_name": phase.Name,
		"status":     string(res.Status),
		"workers":    workers,
	}
	if cctx != nil {
		out["objective"] = cctx.Objective
		if cctx.Plan != nil {
			out["completion_criteria"] = cctx.Plan.CompletionCriteria
		}
	}
	return out
}

type rawEvaluation struct {
	Completed     *bool    `json:"completed"`
	CanProceed    *bool    `json:"can_proceed"`
	CanProceedAlt *bool    `json:"canProceed"`
	Quality       *float64 `json:"quality_score"`
	QualityAlt    *float64 `json:"qualityScore"`
	RetryTargets  []string `json:"retry_targets"`
	RetryAlt      []string `json:"retryTargets"`
	Reason        string   `json:"reason"`
}

// decodeEvaluation accepts the oracle verdict only when every required
// field is present and in range.
func decodeEvaluation(text string, res core.PhaseResult) (core.PhaseEvaluation, error) {
	extracted := service.ExtractJSON(text)
	if extracted == "" {
		return core.PhaseEvaluation{}, fmt.Errorf("no JSON object in evaluation response")
	}
	var raw rawEvaluation
	if err := json.Unmarshal([]byte(extracted), &raw); err != nil {
		return core.PhaseEvaluation{}, fmt.Errorf("decoding evaluation: %w", err)
	}

	canProceed := raw.CanProceed
	if canProceed == nil {
		canProceed = raw.CanProceedAlt
	}
	quality := raw.Quality
	if quality == nil {
		quality = raw.QualityAlt
	}
	switch {
	case raw.Completed == nil:
		return core.PhaseEvaluation{}, fmt.Errorf("evaluation is missing completed")
	case canProceed == nil:
		return core.PhaseEvaluation{}, fmt.Errorf("evaluation is missing can_proceed")
	case quality == nil:
		return core.PhaseEvaluation{}, fmt.Errorf("evaluation is missing quality_score")
	case *quality < 0 || *quality > 1:
		return core.PhaseEvaluation{}, fmt.Errorf("quality_score %v outside [0,1]", *quality)
	}

	targets := raw.RetryTargets
	if targets == nil {
		targets = raw.RetryAlt
	}
	known := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, ok := res.WorkerResults[t]; ok {
			known = append(known, t)
		}
	}

	return core.PhaseEvaluation{
		Completed:    *raw.Completed,
		CanProceed:   *canProceed,
		QualityScore: *quality,
		RetryTargets: known,
		Reason:       raw.Reason,
		FromOracle:   true,
	}, nil
}
