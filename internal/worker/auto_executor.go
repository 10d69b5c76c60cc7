package worker

import (
	"context"
)

// AutoExecutor — автоматическая активность: завершается немедленно.
//
// Полезна для системных шагов без побочных эффектов и как строительный
// блок больших fan-in сценариев. Config может содержать "outputs" —
// map, который сливается в переменные инстанса при завершении.
type AutoExecutor struct{}

func (e *AutoExecutor) Execute(_ context.Context, exec *Execution) (*ExecutionResult, error) {
	result := &ExecutionResult{}

	if exec.Def.Config != nil {
		if outputs, ok := exec.Def.Config["outputs"].(map[string]any); ok {
			result.Outputs = outputs
		}
	}

	return result, nil
}
