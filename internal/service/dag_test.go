package service

import (
	"testing"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

func TestPhaseGraph_AddPhase(t *testing.T) {
	g := NewPhaseGraph()

	if err := g.AddPhase("phase_1"); err != nil {
		t.Fatalf("AddPhase() error = %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}

	err := g.AddPhase("phase_1")
	if core.GetCode(err) != core.CodeDuplicatePhase {
		t.Errorf("duplicate AddPhase() code = %q, want %q", core.GetCode(err), core.CodeDuplicatePhase)
	}
}

func TestPhaseGraph_AddDependency(t *testing.T) {
	g := NewPhaseGraph()
	_ = g.AddPhase("phase_1")
	_ = g.AddPhase("phase_2")

	if err := g.AddDependency("phase_2", "phase_1"); err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}
	// repeated edges are ignored
	if err := g.AddDependency("phase_2", "phase_1"); err != nil {
		t.Fatalf("repeated AddDependency() error = %v", err)
	}

	if deps := g.Dependencies("phase_2"); len(deps) != 1 || deps[0] != "phase_1" {
		t.Errorf("Dependencies() = %v, want [phase_1]", deps)
	}
	if deps := g.Dependents("phase_1"); len(deps) != 1 || deps[0] != "phase_2" {
		t.Errorf("Dependents() = %v, want [phase_2]", deps)
	}

	err := g.AddDependency("phase_2", "phase_9")
	if core.GetCode(err) != core.CodeUnknownPhaseRef {
		t.Errorf("unknown dependency code = %q, want %q", core.GetCode(err), core.CodeUnknownPhaseRef)
	}
}

func TestPhaseGraph_BuildOrder(t *testing.T) {
	g := NewPhaseGraph()
	for _, ref := range []string{"phase_1", "phase_2", "phase_3", "phase_10"} {
		_ = g.AddPhase(ref)
	}
	_ = g.AddDependency("phase_3", "phase_1")
	_ = g.AddDependency("phase_3", "phase_2")
	_ = g.AddDependency("phase_10", "phase_3")

	order, err := g.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{"phase_1", "phase_2", "phase_3", "phase_10"}
	if len(order.Order) != len(want) {
		t.Fatalf("Order = %v, want %v", order.Order, want)
	}
	for i := range want {
		if order.Order[i] != want[i] {
			t.Errorf("Order[%d] = %s, want %s", i, order.Order[i], want[i])
		}
	}

	if len(order.Levels) != 3 {
		t.Fatalf("Levels = %v, want 3 levels", order.Levels)
	}
	if len(order.Levels[0]) != 2 {
		t.Errorf("Levels[0] = %v, want phase_1 and phase_2", order.Levels[0])
	}
}

func TestPhaseGraph_DetectsCycle(t *testing.T) {
	g := NewPhaseGraph()
	_ = g.AddPhase("phase_1")
	_ = g.AddPhase("phase_2")
	_ = g.AddPhase("phase_3")
	_ = g.AddDependency("phase_1", "phase_3")
	_ = g.AddDependency("phase_2", "phase_1")
	_ = g.AddDependency("phase_3", "phase_2")

	_, err := g.Build()
	if err == nil {
		t.Fatal("Build() should fail on a cycle")
	}
	if !core.IsPlanValidation(err) {
		t.Errorf("error should be a plan validation error, got %v", err)
	}
	if core.GetCode(err) != core.CodeDAGCycle {
		t.Errorf("code = %q, want %q", core.GetCode(err), core.CodeDAGCycle)
	}
}

func TestPhaseGraph_SelfLoop(t *testing.T) {
	g := NewPhaseGraph()
	_ = g.AddPhase("phase_1")
	_ = g.AddDependency("phase_1", "phase_1")

	if err := g.Validate(); core.GetCode(err) != core.CodeDAGCycle {
		t.Errorf("Validate() = %v, want cycle", err)
	}
}

func TestPhaseGraphFromPlan(t *testing.T) {
	plan := &core.ExecutionPlan{
		Objective: "build",
		Phases: []core.Phase{
			{Index: 1, Name: "analyze"},
			{Index: 2, Name: "implement", DependsOn: []string{"phase_1"}},
			{Index: 3, Name: "test", DependsOn: []string{"phase_2"}},
		},
	}

	g, err := PhaseGraphFromPlan(plan)
	if err != nil {
		t.Fatalf("PhaseGraphFromPlan() error = %v", err)
	}
	order, err := g.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(order.Levels) != 3 {
		t.Errorf("Levels = %v, want a chain of 3", order.Levels)
	}

	plan.Phases[2].DependsOn = []string{"phase_7"}
	if _, err := PhaseGraphFromPlan(plan); core.GetCode(err) != core.CodeUnknownPhaseRef {
		t.Errorf("unknown ref error = %v", err)
	}
}

func TestLessRef(t *testing.T) {
	if !lessRef("phase_2", "phase_10") {
		t.Error("phase_2 should sort before phase_10")
	}
	if lessRef("phase_10", "phase_2") {
		t.Error("phase_10 should not sort before phase_2")
	}
}
