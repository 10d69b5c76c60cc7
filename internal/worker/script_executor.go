package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Gateflow/internal/expr"
)

// ScriptExecutor — вычисление HCL-выражения над переменными инстанса.
//
// Config:
//   - expression — булево HCL-выражение (string, required)
//   - output     — имя переменной для результата (string, default "result")
//
// Выражение вычисляется тем же evaluator'ом, что и условия переходов:
// один синтаксис для всего процесса.
type ScriptExecutor struct {
	evaluator expr.Evaluator
}

// NewScriptExecutor создаёт executor с HCL evaluator'ом.
func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{evaluator: expr.NewHCLEvaluator()}
}

func (e *ScriptExecutor) Execute(_ context.Context, exec *Execution) (*ExecutionResult, error) {
	expression, ok := exec.Def.Config["expression"].(string)
	if !ok || expression == "" {
		return &ExecutionResult{Error: "script: missing 'expression' in config"}, nil
	}

	value, err := e.evaluator.EvaluateBool(expression, exec.Variables)
	if err != nil {
		return &ExecutionResult{Error: fmt.Sprintf("script: %v", err)}, nil
	}

	output := "result"
	if name, ok := exec.Def.Config["output"].(string); ok && name != "" {
		output = name
	}

	return &ExecutionResult{
		Outputs: map[string]any{output: value},
	}, nil
}
