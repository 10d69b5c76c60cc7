package expr

import (
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Ошибки вычисления выражений.
var (
	// ErrParse — выражение не распарсилось.
	ErrParse = errors.New("expression parse failed")

	// ErrEvaluate — выражение не вычислилось (нет данных, ошибка типов).
	ErrEvaluate = errors.New("expression evaluation failed")

	// ErrNotBool — результат выражения не приводится к bool.
	ErrNotBool = errors.New("expression result is not a boolean")
)

// Evaluator — интерфейс вычислителя условий переходов.
//
// variables — переменные процесса на момент вычисления.
type Evaluator interface {
	// EvaluateBool вычисляет булево выражение.
	EvaluateBool(expression string, variables map[string]any) (bool, error)
}

// HCLEvaluator — вычислитель на нативных HCL-выражениях.
//
// Переменные процесса доступны в выражении по имени:
//
//	amount > 100 && region == "eu"
//
// Неизвестная переменная или несовместимые типы дают ErrEvaluate,
// никогда не приводятся к false молча.
type HCLEvaluator struct{}

// NewHCLEvaluator создаёт вычислитель.
func NewHCLEvaluator() *HCLEvaluator {
	return &HCLEvaluator{}
}

// EvaluateBool реализует Evaluator.
func (e *HCLEvaluator) EvaluateBool(expression string, variables map[string]any) (bool, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(expression), "condition", hcl.InitialPos)
	if diags.HasErrors() {
		return false, fmt.Errorf("%w: %s", ErrParse, diags.Error())
	}

	vars := make(map[string]cty.Value, len(variables))
	for name, value := range variables {
		v, err := ToCtyValue(value)
		if err != nil {
			return false, fmt.Errorf("%w: variable %q: %v", ErrEvaluate, name, err)
		}
		vars[name] = v
	}

	val, diags := parsed.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return false, fmt.Errorf("%w: %s", ErrEvaluate, diags.Error())
	}

	if val.IsNull() || !val.IsKnown() {
		return false, fmt.Errorf("%w: result is null or unknown", ErrEvaluate)
	}

	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrNotBool, val.Type().FriendlyName())
	}

	return boolVal.True(), nil
}
