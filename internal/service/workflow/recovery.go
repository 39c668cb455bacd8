package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

// DefaultMaxRetries is the per-phase recovery budget.
const DefaultMaxRetries = 3

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection",
	"rate limit",
	"temporarily",
	"try again",
	"retry",
	"503",
	"429",
}

var criticalMarkers = []string{
	"unauthorized",
	"authentication",
	"authorization",
	"forbidden",
	"invalid api key",
	"access denied",
	"permission denied",
	"401",
	"403",
}

// FailureClass is the outcome of scanning a phase's worker errors.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailureCritical  FailureClass = "critical"
	FailureUnknown   FailureClass = "unknown"
)

// Recovery chooses what to do with a phase the evaluator would not let
// through. The retry counters it consults live on the CoordinatorContext,
// so they start at zero for every task.
type Recovery struct {
	oracle     core.Oracle
	logger     *logging.Logger
	maxRetries int
	fallbacks  map[string]string
}

// RecoveryOption configures Recovery.
type RecoveryOption func(*Recovery)

// WithMaxRetries sets the per-phase budget. Zero means abort on the first
// failure.
func WithMaxRetries(n int) RecoveryOption {
	return func(r *Recovery) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithFallbacks maps worker names to the worker that replaces them. Entries
// take precedence over the fallback declared in a worker's header.
func WithFallbacks(fallbacks map[string]string) RecoveryOption {
	return func(r *Recovery) {
		for k, v := range fallbacks {
			r.fallbacks[k] = v
		}
	}
}

// NewRecovery creates the recovery policy.
func NewRecovery(oracle core.Oracle, logger *logging.Logger, opts ...RecoveryOption) *Recovery {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Recovery{
		oracle:     oracle,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		fallbacks:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxRetries returns the per-phase budget.
func (r *Recovery) MaxRetries() int {
	return r.maxRetries
}

// Recover decides the next step for a phase. Every call consumes one unit of
// the phase's budget; once the budget is spent the answer is always abort.
func (r *Recovery) Recover(ctx context.Context, cctx *CoordinatorContext, phase *core.Phase, res core.PhaseResult, eval core.PhaseEvaluation) core.RecoveryAction {
	attempt := cctx.IncrementRetry(phase.Index)
	log := cctx.Logger.WithPhase(phase.Ref())

	if attempt > r.maxRetries {
		cause := core.ErrRecoveryExhausted(phase.Ref(), attempt, r.maxRetries)
		log.Warn("retry budget exhausted", "attempt", attempt, "max_retries", r.maxRetries)
		return core.Abort(cause.Message, cause)
	}
	remaining := r.maxRetries - attempt

	switch class, evidence := Classify(res); class {
	case FailureTransient:
		return core.Retry(remaining, "transient failure: "+evidence)
	case FailureCritical:
		return core.Abort("critical failure: "+evidence, nil)
	}

	for _, key := range res.NonSucceeded() {
		name := workerName(key)
		if fb, ok := r.fallbackFor(cctx, name); ok {
			return core.Fallback(fb, name, fmt.Sprintf("worker %s failed, falling back to %s", name, fb))
		}
	}

	return r.askOracle(ctx, cctx, phase, res, eval, attempt, remaining)
}

// Classify scans every non-succeeded worker's error text. Transient
// evidence wins over critical evidence. The second result is the worker and
// marker that decided the class.
func Classify(res core.PhaseResult) (FailureClass, string) {
	var critical string
	for _, key := range res.NonSucceeded() {
		wr := res.WorkerResults[key]
		if wr.Status == core.WorkerTimeout {
			return FailureTransient, key + " timed out"
		}
		text := strings.ToLower(wr.ErrorText())
		if m := firstMarker(text, transientMarkers); m != "" {
			return FailureTransient, fmt.Sprintf("%s: %s", key, m)
		}
		if critical == "" {
			if m := firstMarker(text, criticalMarkers); m != "" {
				critical = fmt.Sprintf("%s: %s", key, m)
			}
		}
	}
	if critical != "" {
		return FailureCritical, critical
	}
	return FailureUnknown, ""
}

func (r *Recovery) fallbackFor(cctx *CoordinatorContext, name string) (string, bool) {
	fb := r.fallbacks[name]
	if fb == "" {
		if cfg, ok := cctx.Catalog.Get(name); ok {
			fb = cfg.Fallback
		}
	}
	if fb == "" || fb == name || !cctx.Catalog.Has(fb) {
		return "", false
	}
	return fb, true
}

type rawRecovery struct {
	Action         string           `json:"action"`
	FallbackWorker string           `json:"fallback_worker"`
	FallbackAlt    string           `json:"fallbackWorker"`
	MaxRetries     *int             `json:"max_retries"`
	Reason         string           `json:"reason"`
	Adjustments    []map[string]any `json:"adjustments"`
}

func (r *Recovery) askOracle(ctx context.Context, cctx *CoordinatorContext, phase *core.Phase, res core.PhaseResult, eval core.PhaseEvaluation, attempt, remaining int) core.RecoveryAction {
	const defaultReason = "no usable recovery decision, retrying once"
	log := cctx.Logger.WithPhase(phase.Ref())

	if r.oracle == nil {
		return core.Retry(1, defaultReason)
	}

	failures := make([]any, 0)
	for _, key := range res.NonSucceeded() {
		wr := res.WorkerResults[key]
		failures = append(failures, map[string]any{
			"worker": key,
			"status": string(wr.Status),
			"error":  wr.ErrorText(),
		})
	}
	resp, err := r.oracle.Ask(ctx, core.OracleRequest{
		Role: core.RoleRecover,
		Context: map[string]any{
			"phase":       phase.Index,
			"phase_name":  phase.Name,
			"status":      string(res.Status),
			"attempt":     attempt,
			"max_retries": r.maxRetries,
			"failures":    failures,
			"evaluation":  eval,
			"workers":     cctx.Catalog.Names(),
		},
	})
	if err != nil {
		log.Warn("recovery oracle failed", "error", err)
		return core.Retry(1, defaultReason)
	}
	cctx.AddTokens(resp.TokensUsed)

	var raw rawRecovery
	if err := service.ParseJSON(resp.Text, &raw); err != nil {
		log.Warn("recovery response unusable", "error", err)
		return core.Retry(1, defaultReason)
	}
	kind, err := core.ParseRecoveryKind(strings.ToLower(strings.TrimSpace(raw.Action)))
	if err != nil {
		log.Warn("recovery response unusable", "error", err)
		return core.Retry(1, defaultReason)
	}

	reason := raw.Reason
	if reason == "" {
		reason = "decided by oracle"
	}
	switch kind {
	case core.RecoveryRetry:
		n := remaining
		if raw.MaxRetries != nil && *raw.MaxRetries >= 1 && *raw.MaxRetries < remaining {
			n = *raw.MaxRetries
		}
		return core.Retry(n, reason)
	case core.RecoveryFallback:
		fb := firstNonEmpty(raw.FallbackWorker, raw.FallbackAlt)
		failures := res.NonSucceeded()
		if fb == "" || !cctx.Catalog.Has(fb) || len(failures) == 0 {
			log.Warn("oracle chose an unusable fallback", "fallback_worker", fb)
			return core.Retry(1, defaultReason)
		}
		return core.Fallback(fb, workerName(failures[0]), reason)
	case core.RecoveryAdjust:
		return core.Adjust(raw.Adjustments, reason)
	case core.RecoverySkip:
		return core.Skip(reason)
	default:
		return core.Abort(reason, nil)
	}
}

// workerName strips the "#N" suffix of a repeated assignment key.
func workerName(key string) string {
	name, _, _ := strings.Cut(key, "#")
	return name
}

func firstMarker(text string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return m
		}
	}
	return ""
}
