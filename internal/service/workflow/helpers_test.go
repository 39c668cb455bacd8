package workflow

import (
	"sort"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/catalog"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

func testWorker(name string) *core.WorkerConfig {
	return &core.WorkerConfig{
		Name:             name,
		Description:      name + " worker",
		CapabilityPrompt: "You are the " + name + ".",
		Mode:             core.ModeAutonomous,
		MaxIterations:    3,
		Timeout:          5 * time.Second,
	}
}

func testCatalog(names ...string) *catalog.Catalog {
	workers := make([]*core.WorkerConfig, 0, len(names))
	for _, n := range names {
		workers = append(workers, testWorker(n))
	}
	return catalog.New(workers, nil)
}

func testContext(cat *catalog.Catalog) *CoordinatorContext {
	return NewCoordinatorContext("task-1", "test objective", nil, cat, nil, logging.NewNop())
}

func phaseResult(index int, results map[string]core.WorkerStatus, errs map[string]string) core.PhaseResult {
	res := core.PhaseResult{
		PhaseIndex:    index,
		PhaseName:     "Phase",
		WorkerResults: make(map[string]core.WorkerResult),
	}
	var ordered []core.WorkerResult
	for _, key := range sortedKeys(results) {
		wr := core.WorkerResult{WorkerName: key, Status: results[key]}
		if msg, ok := errs[key]; ok {
			wr.Error = &core.ErrorInfo{Kind: core.KindFailed, Message: msg}
		}
		res.WorkerResults[key] = wr
		res.Order = append(res.Order, key)
		ordered = append(ordered, wr)
	}
	res.Status = core.DerivePhaseStatus(ordered)
	return res
}

func sortedKeys(m map[string]core.WorkerStatus) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func intPtr(n int) *int {
	return &n
}
