package expr

import (
	"errors"
	"testing"
)

func TestHCLEvaluator_EvaluateBool(t *testing.T) {
	ev := NewHCLEvaluator()

	tests := []struct {
		name       string
		expression string
		variables  map[string]any
		want       bool
		wantErr    bool
	}{
		{
			name:       "literal true",
			expression: "true",
			want:       true,
		},
		{
			name:       "literal false",
			expression: "false",
			want:       false,
		},
		{
			name:       "number comparison",
			expression: "amount > 100",
			variables:  map[string]any{"amount": 150},
			want:       true,
		},
		{
			name:       "number comparison false",
			expression: "amount > 100",
			variables:  map[string]any{"amount": 50},
			want:       false,
		},
		{
			name:       "string equality",
			expression: `region == "eu"`,
			variables:  map[string]any{"region": "eu"},
			want:       true,
		},
		{
			name:       "boolean conjunction",
			expression: `amount > 100 && region == "eu"`,
			variables:  map[string]any{"amount": 200, "region": "eu"},
			want:       true,
		},
		{
			name:       "nested object attribute",
			expression: "order.total >= 10",
			variables:  map[string]any{"order": map[string]any{"total": 10.0}},
			want:       true,
		},
		{
			name:       "missing variable fails",
			expression: "missing > 1",
			wantErr:    true,
		},
		{
			name:       "type mismatch fails",
			expression: `amount > "abc"`,
			variables:  map[string]any{"amount": 5},
			wantErr:    true,
		},
		{
			name:       "non-boolean result fails",
			expression: `"hello"`,
			wantErr:    true,
		},
		{
			name:       "parse error",
			expression: "amount >",
			variables:  map[string]any{"amount": 5},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.EvaluateBool(tt.expression, tt.variables)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHCLEvaluator_MissingVariableIsEvaluateError(t *testing.T) {
	ev := NewHCLEvaluator()

	_, err := ev.EvaluateBool("approved == true", nil)
	if !errors.Is(err, ErrEvaluate) {
		t.Errorf("expected ErrEvaluate, got %v", err)
	}
}

func TestToCtyValue_RoundTrip(t *testing.T) {
	original := map[string]any{
		"name":   "order-42",
		"total":  99.5,
		"paid":   true,
		"items":  []any{"a", "b"},
		"nested": map[string]any{"count": 3.0},
	}

	ctyVal, err := ToCtyValue(original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	back, err := FromCtyValue(ctyVal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := back.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", back)
	}
	if m["name"] != "order-42" {
		t.Errorf("name mismatch: %v", m["name"])
	}
	if m["total"] != 99.5 {
		t.Errorf("total mismatch: %v", m["total"])
	}
	if m["paid"] != true {
		t.Errorf("paid mismatch: %v", m["paid"])
	}
}
