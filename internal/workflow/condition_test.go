package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluator_Evaluate(t *testing.T) {
	data := map[string]any{
		"status":  "ok",
		"retries": 2,
		"score":   7.5,
		"force":   true,
		"scan": map[string]any{
			"open_ports": []any{float64(22), float64(80)},
			"target":     "example.com",
		},
		"findings": []any{"a", "b"},
		"errors":   []any{},
		"name":     "alpha",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"string equality", `status == "ok"`, true},
		{"string inequality", `status != "failed"`, true},
		{"single quoted string", `status == 'ok'`, true},
		{"numeric less than", `retries < 3`, true},
		{"numeric greater or equal", `score >= 7.5`, true},
		{"int float coercion", `retries == 2.0`, true},
		{"bare boolean field", `force`, true},
		{"boolean literal", `true`, true},
		{"negation", `!false`, true},
		{"and both true", `status == "ok" && retries < 3`, true},
		{"and one false", `status == "ok" && retries > 3`, false},
		{"or short circuit semantics", `status == "bad" || force`, true},
		{"grouping", `(retries > 3 || force) && status == "ok"`, true},
		{"nested path", `scan.target == "example.com"`, true},
		{"bracket index", `scan.open_ports[0] == 22`, true},
		{"bracket out of range is nil", `exists(scan.open_ports[9])`, false},
		{"len of array", `len(findings) > 0`, true},
		{"len of string", `len(name) == 5`, true},
		{"empty of empty array", `empty(errors)`, true},
		{"empty of missing key", `empty(missing)`, true},
		{"exists of present key", `exists(status)`, true},
		{"exists of missing key", `exists(missing)`, false},
		{"missing nested path is nil", `exists(scan.nope.deeper)`, false},
		{"string ordering", `name < "beta"`, true},
	}

	ev := NewConditionEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluator_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty expression", ""},
		{"whitespace only", "   "},
		{"unterminated string", `status == "ok`},
		{"trailing garbage", `status == "ok" status`},
		{"non boolean result", `retries`},
		{"non boolean result string", `"hello"`},
		{"unknown function", `magic(status)`},
		{"and on non boolean", `1 && true`},
		{"not on non boolean", `!"text"`},
		{"order incompatible types", `status < 3`},
		{"unexpected character", `status @ "ok"`},
		{"unclosed paren", `(status == "ok"`},
	}

	ev := NewConditionEvaluator()
	data := map[string]any{"status": "ok", "retries": 2}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ev.Evaluate(tt.expr, data)
			require.Error(t, err)

			var werr *WorkflowError
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, WorkflowErrorExpression, werr.Code)
		})
	}
}

func TestConditionEvaluator_RegisterFunc(t *testing.T) {
	ev := NewConditionEvaluator()
	ev.RegisterFunc("contains", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains() takes 2 arguments")
		}
		list, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("contains() requires an array")
		}
		for _, item := range list {
			if item == args[1] {
				return true, nil
			}
		}
		return false, nil
	})

	data := map[string]any{"tags": []any{"red", "blue"}}

	got, err := ev.Evaluate(`contains(tags, "blue")`, data)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ev.Evaluate(`contains(tags, "green")`, data)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConditionEvaluator_NilData(t *testing.T) {
	ev := NewConditionEvaluator()
	got, err := ev.Evaluate(`exists(anything)`, nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConditionEvaluator_CompositeEquality(t *testing.T) {
	data := map[string]any{
		"a":    map[string]any{"k": "v"},
		"b":    map[string]any{"k": "v"},
		"list": []any{"x"},
		"same": []any{"x"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"two maps never equal", `a == b`, false},
		{"two maps not equal", `a != b`, true},
		{"two slices never equal", `list == same`, false},
		{"map against string", `a == "text"`, false},
		{"slice against number", `list == 1`, false},
	}

	ev := NewConditionEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
