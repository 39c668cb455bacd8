package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// Emitter delivers progress events to a sink on a best-effort basis: sink
// errors and panics are logged and counted, never returned.
type Emitter struct {
	sink     core.ProgressSink
	logger   *logging.Logger
	taskID   string
	failures *atomic.Int64
}

// NewEmitter wraps sink. A nil sink discards events.
func NewEmitter(sink core.ProgressSink, logger *logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Emitter{sink: sink, logger: logger, failures: &atomic.Int64{}}
}

// ForTask returns an emitter that stamps every payload with taskID.
func (e *Emitter) ForTask(taskID string) *Emitter {
	if e == nil {
		return nil
	}
	next := *e
	next.taskID = taskID
	next.logger = e.logger.WithTask(taskID)
	return &next
}

// Emit sends one event. Delivery survives cancellation of ctx so terminal
// events still reach the sink.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	if e.taskID != "" {
		out["task_id"] = e.taskID
	}

	if err := e.deliver(context.WithoutCancel(ctx), eventType, out); err != nil {
		e.failures.Add(1)
		e.logger.Warn("progress sink failed", "event", eventType, "error", err)
	}
}

func (e *Emitter) deliver(ctx context.Context, eventType string, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return e.sink.Emit(ctx, eventType, payload)
}

// Failures returns how many deliveries failed.
func (e *Emitter) Failures() int64 {
	if e == nil {
		return 0
	}
	return e.failures.Load()
}

// BusSink publishes progress events on an EventBus.
type BusSink struct {
	bus *EventBus
}

// NewBusSink creates a sink over bus.
func NewBusSink(bus *EventBus) *BusSink {
	return &BusSink{bus: bus}
}

// Emit implements core.ProgressSink.
func (s *BusSink) Emit(_ context.Context, eventType string, payload map[string]any) error {
	taskID, _ := payload["task_id"].(string)
	event := NewProgressEvent(eventType, taskID, payload)
	if IsTerminal(eventType) {
		s.bus.PublishPriority(event)
		return nil
	}
	s.bus.Publish(event)
	return nil
}

// LogSink writes progress events to the logger at debug level.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink over logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements core.ProgressSink.
func (s *LogSink) Emit(ctx context.Context, eventType string, payload map[string]any) error {
	args := make([]any, 0, 2*len(payload)+2)
	args = append(args, "event", eventType)
	for k, v := range payload {
		args = append(args, k, v)
	}
	s.logger.DebugContext(ctx, "progress", args...)
	return nil
}

// MultiSink fans an event out to several sinks. Every sink is tried; the
// errors are joined.
type MultiSink []core.ProgressSink

// Emit implements core.ProgressSink.
func (m MultiSink) Emit(ctx context.Context, eventType string, payload map[string]any) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, eventType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
