package core

import "testing"

func TestParsePhaseRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"phase_1", 1, false},
		{"PHASE_12", 12, false},
		{" 3 ", 3, false},
		{"phase_0", 0, true},
		{"phase_x", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePhaseRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePhaseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePhaseRef(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if PhaseRef(4) != "phase_4" {
		t.Errorf("PhaseRef(4) = %q", PhaseRef(4))
	}
}

func TestResultKeys(t *testing.T) {
	keys := ResultKeys([]WorkerAssignment{
		{WorkerName: "executor"},
		{WorkerName: "reporter"},
		{WorkerName: "executor"},
	})
	want := []string{"executor", "reporter", "executor#2"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestPhase_WithWorkerReplaced(t *testing.T) {
	p := &Phase{Index: 2, Assignments: []WorkerAssignment{{WorkerName: "a"}, {WorkerName: "b"}}}
	cp := p.WithWorkerReplaced("a", "a_safe")
	if cp.Assignments[0].WorkerName != "a_safe" {
		t.Errorf("replaced worker = %q, want a_safe", cp.Assignments[0].WorkerName)
	}
	if p.Assignments[0].WorkerName != "a" {
		t.Errorf("original phase was mutated")
	}
}

func TestParseExecutionMode(t *testing.T) {
	tests := map[string]ExecutionMode{
		"react":          ModeAutonomous,
		"autonomous":     ModeAutonomous,
		"single":         ModeSingleShot,
		"single-shot":    ModeSingleShot,
		"loop":           ModeIterativeLoop,
		"Iterative-Loop": ModeIterativeLoop,
	}
	for in, want := range tests {
		got, err := ParseExecutionMode(in)
		if err != nil || got != want {
			t.Errorf("ParseExecutionMode(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseExecutionMode("swarm"); err == nil {
		t.Errorf("ParseExecutionMode(swarm) expected error")
	}
}

func TestWorkerConfig_AllowsTool(t *testing.T) {
	cfg := &WorkerConfig{AllowedTools: []string{"read_file", "shell"}}
	if !cfg.AllowsTool("shell") || cfg.AllowsTool("write_file") {
		t.Errorf("AllowsTool() mismatch for %v", cfg.AllowedTools)
	}
}

func TestWorkerConfig_AllowsToolUnsorted(t *testing.T) {
	cfg := &WorkerConfig{AllowedTools: []string{"shell", "read_file", "echo"}}
	for _, name := range []string{"shell", "read_file", "echo"} {
		if !cfg.AllowsTool(name) {
			t.Errorf("AllowsTool(%q) = false for %v", name, cfg.AllowedTools)
		}
	}
	if cfg.AllowsTool("grep_files") {
		t.Errorf("AllowsTool(grep_files) = true for %v", cfg.AllowedTools)
	}
}
