package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/hugo-lorenzo-mato/taskforge/internal/vars"
)

// completionMarkers end an iterative loop. Markers must not touch a letter or
// digit, so TASK_DONE counts while INCOMPLETE and ALLDONE do not.
var completionMarkers = regexp.MustCompile(`(?i)(?:^|[^A-Z0-9])(?:DONE|COMPLETE|COMPLETED|FINISHED)(?:$|[^A-Z0-9])`)

// HasCompletionMarker reports whether the rendered output contains a
// completion marker.
func HasCompletionMarker(output any) bool {
	if output == nil {
		return false
	}
	return completionMarkers.MatchString(vars.Stringify(output))
}

// CompletionCheck is a compiled Lua predicate. The chunk sees the globals
// output (string), data (structured output), iteration (number) and status
// (string), and ends the loop by returning a truthy value. A bare expression
// is accepted as shorthand for "return <expr>".
type CompletionCheck struct {
	source string
	proto  *lua.FunctionProto
}

// CompileCompletionCheck parses and compiles src.
func CompileCompletionCheck(src string) (*CompletionCheck, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty completion check")
	}
	proto, err := compileChunk(src)
	if err != nil && !strings.HasPrefix(src, "return") {
		var retryErr error
		if proto, retryErr = compileChunk("return " + src); retryErr == nil {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("compiling completion check: %w", err)
	}
	return &CompletionCheck{source: src, proto: proto}, nil
}

func compileChunk(src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), "completion_check")
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, "completion_check")
}

// Source returns the predicate text.
func (c *CompletionCheck) Source() string { return c.source }

// Evaluate runs the predicate in a fresh sandboxed state.
func (c *CompletionCheck) Evaluate(ctx context.Context, output any, iteration int, status string) (bool, error) {
	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("output", lua.LString(vars.Stringify(output)))
	L.SetGlobal("data", toLua(L, output))
	L.SetGlobal("iteration", lua.LNumber(iteration))
	L.SetGlobal("status", lua.LString(status))

	L.Push(L.NewFunctionFromProto(c.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("completion check failed: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

// newSandbox opens only the base, table, string and math libraries, with
// file loading, printing and randomness removed.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "print", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
	return L
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(vars.Stringify(val))
	}
}

// checkCache compiles each distinct predicate once.
type checkCache struct {
	mu     sync.Mutex
	checks map[string]*CompletionCheck
	errs   map[string]error
}

func (c *checkCache) get(src string) (*CompletionCheck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checks == nil {
		c.checks = make(map[string]*CompletionCheck)
		c.errs = make(map[string]error)
	}
	if chk, ok := c.checks[src]; ok {
		return chk, nil
	}
	if err, ok := c.errs[src]; ok {
		return nil, err
	}
	chk, err := CompileCompletionCheck(src)
	if err != nil {
		c.errs[src] = err
		return nil, err
	}
	c.checks[src] = chk
	return chk, nil
}
