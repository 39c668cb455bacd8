package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// =============================================================================
// Oracle
// =============================================================================

// OracleReply is one scripted oracle answer.
type OracleReply struct {
	Text string
	Err  error
}

// MockOracle implements core.Oracle with scripted replies per role. Replies
// are consumed in order; the last one repeats.
type MockOracle struct {
	replies map[core.OracleRole][]OracleReply
	askFunc func(context.Context, core.OracleRequest) (*core.OracleResponse, error)
	calls   []core.OracleRequest
	mu      sync.Mutex
}

// NewMockOracle creates an oracle with no scripted replies. Unscripted roles
// return an error.
func NewMockOracle() *MockOracle {
	return &MockOracle{replies: make(map[core.OracleRole][]OracleReply)}
}

// WithResponse queues a text reply for role.
func (m *MockOracle) WithResponse(role core.OracleRole, text string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[role] = append(m.replies[role], OracleReply{Text: text})
	return m
}

// WithJSON queues a reply containing v encoded as JSON.
func (m *MockOracle) WithJSON(role core.OracleRole, v any) *MockOracle {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return m.WithResponse(role, string(data))
}

// WithError queues a failing reply for role.
func (m *MockOracle) WithError(role core.OracleRole, err error) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[role] = append(m.replies[role], OracleReply{Err: err})
	return m
}

// WithAskFunc overrides scripted replies.
func (m *MockOracle) WithAskFunc(fn func(context.Context, core.OracleRequest) (*core.OracleResponse, error)) *MockOracle {
	m.askFunc = fn
	return m
}

// Ask implements core.Oracle.
func (m *MockOracle) Ask(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.askFunc
	var reply *OracleReply
	if queue := m.replies[req.Role]; len(queue) > 0 {
		r := queue[0]
		reply = &r
		if len(queue) > 1 {
			m.replies[req.Role] = queue[1:]
		}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("no scripted oracle reply for role %s", req.Role)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &core.OracleResponse{Text: reply.Text, TokensUsed: len(reply.Text) / 4}, nil
}

// Calls returns the recorded requests.
func (m *MockOracle) Calls() []core.OracleRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.OracleRequest(nil), m.calls...)
}

// CallCount returns how many requests had role.
func (m *MockOracle) CallCount(role core.OracleRole) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Role == role {
			n++
		}
	}
	return n
}

// =============================================================================
// Reasoner
// =============================================================================

// ReasonReply is one scripted reasoner turn.
type ReasonReply struct {
	Response core.ReasonResponse
	Err      error
}

// MockReasoner implements core.Reasoner with scripted turns per worker
// name. Replies are consumed in order; the last one repeats. It also tracks
// peak concurrency.
type MockReasoner struct {
	replies    map[string][]ReasonReply
	reasonFunc func(context.Context, core.ReasonRequest) (*core.ReasonResponse, error)
	delay      time.Duration
	calls      []core.ReasonRequest
	active     atomic.Int32
	peak       atomic.Int32
	mu         sync.Mutex
}

// NewMockReasoner creates a reasoner. Unscripted workers get a final
// "done" answer.
func NewMockReasoner() *MockReasoner {
	return &MockReasoner{replies: make(map[string][]ReasonReply)}
}

// WithReply queues a full response for worker.
func (m *MockReasoner) WithReply(worker string, resp core.ReasonResponse) *MockReasoner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[worker] = append(m.replies[worker], ReasonReply{Response: resp})
	return m
}

// WithText queues a text response for worker.
func (m *MockReasoner) WithText(worker, content string, done bool) *MockReasoner {
	return m.WithReply(worker, core.ReasonResponse{Content: content, Done: done, TokensUsed: 10})
}

// WithToolCalls queues a response requesting tool calls.
func (m *MockReasoner) WithToolCalls(worker string, calls ...core.ToolCall) *MockReasoner {
	return m.WithReply(worker, core.ReasonResponse{ToolCalls: calls, TokensUsed: 10})
}

// WithError queues a failing turn for worker.
func (m *MockReasoner) WithError(worker string, err error) *MockReasoner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[worker] = append(m.replies[worker], ReasonReply{Err: err})
	return m
}

// WithDelay makes every turn take d, or until the context ends.
func (m *MockReasoner) WithDelay(d time.Duration) *MockReasoner {
	m.delay = d
	return m
}

// WithReasonFunc overrides scripted replies.
func (m *MockReasoner) WithReasonFunc(fn func(context.Context, core.ReasonRequest) (*core.ReasonResponse, error)) *MockReasoner {
	m.reasonFunc = fn
	return m
}

// Reason implements core.Reasoner.
func (m *MockReasoner) Reason(ctx context.Context, req core.ReasonRequest) (*core.ReasonResponse, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.reasonFunc
	var reply *ReasonReply
	if queue := m.replies[req.Worker]; len(queue) > 0 {
		r := queue[0]
		reply = &r
		if len(queue) > 1 {
			m.replies[req.Worker] = queue[1:]
		}
	}
	m.mu.Unlock()

	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply == nil {
		return &core.ReasonResponse{Content: "done", Done: true, TokensUsed: 1}, nil
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	resp := reply.Response
	return &resp, nil
}

// Calls returns the recorded requests.
func (m *MockReasoner) Calls() []core.ReasonRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.ReasonRequest(nil), m.calls...)
}

// CallCount returns how many turns worker took.
func (m *MockReasoner) CallCount(worker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Worker == worker {
			n++
		}
	}
	return n
}

// Peak returns the highest number of concurrent Reason calls observed.
func (m *MockReasoner) Peak() int {
	return int(m.peak.Load())
}

// =============================================================================
// Progress sink
// =============================================================================

// RecordedEvent is one event seen by RecordingSink.
type RecordedEvent struct {
	Type    string
	Payload map[string]any
}

// RecordingSink implements core.ProgressSink by recording events.
type RecordingSink struct {
	events []RecordedEvent
	err    error
	mu     sync.Mutex
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// WithError makes every Emit record the event and then fail.
func (s *RecordingSink) WithError(err error) *RecordingSink {
	s.err = err
	return s
}

// Emit implements core.ProgressSink.
func (s *RecordingSink) Emit(_ context.Context, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, RecordedEvent{Type: eventType, Payload: payload})
	return s.err
}

// Events returns the recorded events.
func (s *RecordingSink) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedEvent(nil), s.events...)
}

// Types returns the recorded event types in order.
func (s *RecordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}

// Count returns how many events of eventType were recorded.
func (s *RecordingSink) Count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// =============================================================================
// Tools
// =============================================================================

// ToolFunc is a test tool implementation.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// StaticTools implements core.ToolInvoker over a fixed map.
type StaticTools struct {
	tools map[string]ToolFunc
	calls []core.ToolCall
	mu    sync.Mutex
}

// NewStaticTools creates a registry with no tools.
func NewStaticTools() *StaticTools {
	return &StaticTools{tools: make(map[string]ToolFunc)}
}

// With registers a tool.
func (s *StaticTools) With(name string, fn ToolFunc) *StaticTools {
	s.tools[name] = fn
	return s
}

// Invoke implements core.ToolInvoker.
func (s *StaticTools) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, core.ToolCall{Name: name, Arguments: args})
	fn, ok := s.tools[name]
	s.mu.Unlock()

	if !ok {
		return nil, core.ErrNotFound("tool", name)
	}
	return fn(ctx, args)
}

// Specs implements core.ToolInvoker.
func (s *StaticTools) Specs(names []string) []core.ToolSpec {
	var specs []core.ToolSpec
	for _, name := range names {
		if _, ok := s.tools[name]; ok {
			specs = append(specs, core.ToolSpec{Name: name, Description: "test tool " + name})
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Calls returns the recorded invocations.
func (s *StaticTools) Calls() []core.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ToolCall(nil), s.calls...)
}
