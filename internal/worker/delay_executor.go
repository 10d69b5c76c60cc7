package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DelayExecutor — задержка на указанное количество секунд.
//
// Config:
//   - seconds — длительность задержки (number, required, > 0)
type DelayExecutor struct{}

func (e *DelayExecutor) Execute(ctx context.Context, exec *Execution) (*ExecutionResult, error) {
	seconds, err := parseSeconds(exec.Def.Config)
	if err != nil {
		return &ExecutionResult{Error: err.Error()}, nil
	}

	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &ExecutionResult{
		Outputs: map[string]any{"delayed_seconds": seconds},
	}, nil
}

// parseSeconds извлекает "seconds" из конфигурации активности.
// JSON-декодирование даёт float64 или json.Number.
func parseSeconds(config map[string]any) (float64, error) {
	raw, ok := config["seconds"]
	if !ok {
		return 0, fmt.Errorf("delay: missing 'seconds' in config")
	}

	var seconds float64
	switch v := raw.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("delay: invalid 'seconds': %v", err)
		}
		seconds = f
	default:
		return 0, fmt.Errorf("delay: 'seconds' must be a number, got %T", raw)
	}

	if seconds <= 0 {
		return 0, fmt.Errorf("delay: 'seconds' must be positive, got %v", seconds)
	}
	return seconds, nil
}
