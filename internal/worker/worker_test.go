package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
)

func testExecution(activityType string, config map[string]any, variables map[string]any) *Execution {
	def := &domain.FlowNodeDefinition{
		ID:           "step",
		Kind:         domain.KindActivity,
		ActivityType: activityType,
		Config:       config,
	}
	return &Execution{
		Node:      domain.NewFlowNodeInstance(uuid.New(), def, 0),
		Def:       def,
		Variables: variables,
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()

	for _, activityType := range []string{domain.ActivityAuto, domain.ActivityDelay, domain.ActivityScript} {
		if _, err := r.Get(activityType); err != nil {
			t.Errorf("Get(%q) error = %v", activityType, err)
		}
	}

	if _, err := r.Get("ftp"); !errors.Is(err, ErrUnknownActivityType) {
		t.Errorf("Get(ftp) error = %v, want ErrUnknownActivityType", err)
	}

	// Manual не регистрируется: его завершает оператор
	if _, err := r.Get(domain.ActivityManual); err == nil {
		t.Error("Get(manual) should fail")
	}
}

func TestAutoExecutor(t *testing.T) {
	e := &AutoExecutor{}

	result, err := e.Execute(context.Background(), testExecution(domain.ActivityAuto, nil, nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Error != "" {
		t.Errorf("result.Error = %q, want empty", result.Error)
	}
}

func TestAutoExecutor_Outputs(t *testing.T) {
	e := &AutoExecutor{}
	config := map[string]any{
		"outputs": map[string]any{"checked": true},
	}

	result, err := e.Execute(context.Background(), testExecution(domain.ActivityAuto, config, nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Outputs["checked"] != true {
		t.Errorf("Outputs[checked] = %v, want true", result.Outputs["checked"])
	}
}

func TestDelayExecutor(t *testing.T) {
	e := &DelayExecutor{}
	config := map[string]any{"seconds": 0.01}

	start := time.Now()
	result, err := e.Execute(context.Background(), testExecution(domain.ActivityDelay, config, nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Error != "" {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("delay too short: %v", elapsed)
	}
	if result.Outputs["delayed_seconds"] != 0.01 {
		t.Errorf("Outputs[delayed_seconds] = %v, want 0.01", result.Outputs["delayed_seconds"])
	}
}

func TestDelayExecutor_InvalidConfig(t *testing.T) {
	e := &DelayExecutor{}

	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing seconds", map[string]any{}},
		{"negative seconds", map[string]any{"seconds": -1.0}},
		{"zero seconds", map[string]any{"seconds": 0.0}},
		{"non-numeric", map[string]any{"seconds": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Execute(context.Background(), testExecution(domain.ActivityDelay, tt.config, nil))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.Error == "" {
				t.Error("expected logical error in result")
			}
		})
	}
}

func TestDelayExecutor_ContextCancelled(t *testing.T) {
	e := &DelayExecutor{}
	config := map[string]any{"seconds": 60.0}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, testExecution(domain.ActivityDelay, config, nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestScriptExecutor(t *testing.T) {
	e := NewScriptExecutor()
	config := map[string]any{"expression": "amount > 50"}
	variables := map[string]any{"amount": 100}

	result, err := e.Execute(context.Background(), testExecution(domain.ActivityScript, config, variables))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Error != "" {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if result.Outputs["result"] != true {
		t.Errorf("Outputs[result] = %v, want true", result.Outputs["result"])
	}
}

func TestScriptExecutor_CustomOutput(t *testing.T) {
	e := NewScriptExecutor()
	config := map[string]any{
		"expression": "amount > 500",
		"output":     "needs_review",
	}
	variables := map[string]any{"amount": 100}

	result, err := e.Execute(context.Background(), testExecution(domain.ActivityScript, config, variables))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Outputs["needs_review"] != false {
		t.Errorf("Outputs[needs_review] = %v, want false", result.Outputs["needs_review"])
	}
}

func TestScriptExecutor_Errors(t *testing.T) {
	e := NewScriptExecutor()

	tests := []struct {
		name      string
		config    map[string]any
		variables map[string]any
	}{
		{"missing expression", map[string]any{}, nil},
		{"parse error", map[string]any{"expression": "amount >"}, map[string]any{"amount": 1}},
		{"unknown variable", map[string]any{"expression": "missing > 1"}, map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Execute(context.Background(), testExecution(domain.ActivityScript, tt.config, tt.variables))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.Error == "" {
				t.Error("expected logical error in result")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(Config{})

	if w.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", w.pollInterval, defaultPollInterval)
	}
	if w.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d, want %d", w.batchSize, defaultBatchSize)
	}
	if w.registry == nil {
		t.Error("registry should default to NewRegistry")
	}
}

func TestWorker_IsStopped(t *testing.T) {
	w := New(Config{})

	if w.IsStopped() {
		t.Error("new worker should not be stopped")
	}

	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	if !w.IsStopped() {
		t.Error("worker should report stopped")
	}
}
