package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition expression evaluation for workflow branching.
//
// Expressions run inside a deliberately small, sandboxed grammar — there is
// no general eval. Supported forms:
//
//   - dotted path lookup into the node's resolved input: status,
//     scan.open_ports, result.items[0]
//   - comparison operators: ==, !=, <, >, <=, >=
//   - boolean connectives: &&, ||, !
//   - literals: true, false, numbers, single- or double-quoted strings
//   - parentheses for grouping
//   - built-in functions: len(), empty(), exists()
//
// Examples:
//
//	status == "ok" && retries < 3
//	len(findings) > 0 || force_publish
//	!empty(errors)
//
// Every expression must evaluate to a boolean; anything else is an
// expression_invalid error.

// EvalFunc is a function callable from within condition expressions.
type EvalFunc func(args []any) (any, error)

// ConditionEvaluator parses and evaluates condition expressions against a
// node's resolved input data. Safe for concurrent use after all
// RegisterFunc calls have completed.
type ConditionEvaluator struct {
	funcs map[string]EvalFunc
}

// NewConditionEvaluator creates an evaluator with the built-in functions
// len, empty, and exists registered.
func NewConditionEvaluator() *ConditionEvaluator {
	ev := &ConditionEvaluator{funcs: make(map[string]EvalFunc)}

	ev.RegisterFunc("len", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len() takes exactly 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		}
		return nil, fmt.Errorf("len() requires a string, array, or map")
	})

	ev.RegisterFunc("empty", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("empty() takes exactly 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case nil:
			return true, nil
		case string:
			return v == "", nil
		case []any:
			return len(v) == 0, nil
		case map[string]any:
			return len(v) == 0, nil
		}
		return false, nil
	})

	ev.RegisterFunc("exists", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("exists() takes exactly 1 argument, got %d", len(args))
		}
		return args[0] != nil, nil
	})

	return ev
}

// RegisterFunc adds a custom function callable from expressions.
func (ev *ConditionEvaluator) RegisterFunc(name string, fn EvalFunc) {
	ev.funcs[name] = fn
}

// Evaluate parses and evaluates expr against data. The data map is the
// node's resolved input (workflow variables merged with predecessor
// outputs); dotted identifiers index into it.
func (ev *ConditionEvaluator) Evaluate(expr string, data map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, &WorkflowError{
			Code:    WorkflowErrorExpression,
			Message: "empty condition expression",
		}
	}

	toks, err := scanTokens(expr)
	if err != nil {
		return false, &WorkflowError{
			Code:    WorkflowErrorExpression,
			Message: fmt.Sprintf("failed to tokenize expression: %v", err),
			Cause:   err,
		}
	}

	p := &exprParser{toks: toks, data: data, funcs: ev.funcs}
	val, err := p.parseOr()
	if err == nil && p.peek().kind != tokEnd {
		err = fmt.Errorf("unexpected trailing input at %q", p.peek().text)
	}
	if err != nil {
		return false, &WorkflowError{
			Code:    WorkflowErrorExpression,
			Message: fmt.Sprintf("failed to evaluate expression: %v", err),
			Cause:   err,
		}
	}

	b, ok := val.(bool)
	if !ok {
		return false, &WorkflowError{
			Code:    WorkflowErrorExpression,
			Message: fmt.Sprintf("expression did not evaluate to a boolean, got %T", val),
		}
	}
	return b, nil
}

type tokKind int

const (
	tokEnd tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokBool
	tokDot
	tokComma
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokAnd
	tokOr
	tokNot
)

type exprToken struct {
	kind tokKind
	text string
}

var twoCharOps = map[string]tokKind{
	"==": tokEq, "!=": tokNeq, "<=": tokLte, ">=": tokGte,
	"&&": tokAnd, "||": tokOr,
}

var oneCharOps = map[byte]tokKind{
	'.': tokDot, ',': tokComma, '(': tokLParen, ')': tokRParen,
	'[': tokLBracket, ']': tokRBracket,
	'<': tokLt, '>': tokGt, '!': tokNot,
}

func scanTokens(expr string) ([]exprToken, error) {
	var toks []exprToken
	for i := 0; i < len(expr); {
		c := expr[i]

		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}

		if i+1 < len(expr) {
			if kind, ok := twoCharOps[expr[i:i+2]]; ok {
				toks = append(toks, exprToken{kind, expr[i : i+2]})
				i += 2
				continue
			}
		}

		if kind, ok := oneCharOps[c]; ok {
			toks = append(toks, exprToken{kind, string(c)})
			i++
			continue
		}

		if c == '"' || c == '\'' {
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' && j+1 < len(expr) {
					sb.WriteByte(expr[j+1])
					j += 2
					continue
				}
				sb.WriteByte(expr[j])
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, exprToken{tokString, sb.String()})
			i = j + 1
			continue
		}

		if c >= '0' && c <= '9' {
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{tokNumber, expr[i:j]})
			i = j
			continue
		}

		if isIdentByte(c) {
			j := i
			for j < len(expr) && (isIdentByte(expr[j]) || expr[j] >= '0' && expr[j] <= '9') {
				j++
			}
			word := expr[i:j]
			if word == "true" || word == "false" {
				toks = append(toks, exprToken{tokBool, word})
			} else {
				toks = append(toks, exprToken{tokIdent, word})
			}
			i = j
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
	}
	toks = append(toks, exprToken{kind: tokEnd})
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// exprParser is a recursive descent parser that evaluates as it parses.
// Precedence, lowest first: || , && , ! , comparisons, primaries.
type exprParser struct {
	toks  []exprToken
	pos   int
	data  map[string]any
	funcs map[string]EvalFunc
}

func (p *exprParser) peek() exprToken {
	if p.pos >= len(p.toks) {
		return exprToken{kind: tokEnd}
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() exprToken {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) expect(kind tokKind) error {
	if p.peek().kind != kind {
		return fmt.Errorf("unexpected token %q", p.peek().text)
	}
	p.pos++
	return nil
}

func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		left = lb || rb
	}
	return left, nil
}

func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		left = lb && rb
	}
	return left, nil
}

func (p *exprParser) parseNot() (any, error) {
	if p.peek().kind == tokNot {
		p.pos++
		val, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op := p.peek().kind
	switch op {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte:
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compareValues(left, right, op)
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (any, error) {
	tok := p.peek()
	switch tok.kind {
	case tokBool:
		p.pos++
		return tok.text == "true", nil
	case tokNumber:
		p.pos++
		return strconv.ParseFloat(tok.text, 64)
	case tokString:
		p.pos++
		return tok.text, nil
	case tokLParen:
		p.pos++
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return val, nil
	case tokIdent:
		p.pos++
		if p.peek().kind == tokLParen {
			return p.parseCall(tok.text)
		}
		return p.resolvePath(tok.text)
	}
	return nil, fmt.Errorf("unexpected token %q", tok.text)
}

func (p *exprParser) parseCall(name string) (any, error) {
	fn, ok := p.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	p.pos++ // consume '('

	var args []any
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.pos++
		}
	}
	if err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return fn(args)
}

// resolvePath walks a dotted (and bracket-indexed) path into the data map.
// Missing segments resolve to nil rather than erroring so expressions can
// probe optional keys with exists()/empty().
func (p *exprParser) resolvePath(first string) (any, error) {
	var cur any
	if p.data != nil {
		cur = p.data[first]
	}

	for {
		switch p.peek().kind {
		case tokDot:
			p.pos++
			seg := p.next()
			if seg.kind != tokIdent {
				return nil, fmt.Errorf("expected identifier after '.', got %q", seg.text)
			}
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				continue
			}
			cur = m[seg.text]
		case tokLBracket:
			p.pos++
			idxVal, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRBracket); err != nil {
				return nil, err
			}
			cur = indexInto(cur, idxVal)
		default:
			return cur, nil
		}
	}
}

func indexInto(val, idx any) any {
	switch v := val.(type) {
	case []any:
		f, ok := idx.(float64)
		if !ok {
			return nil
		}
		i := int(f)
		if i < 0 || i >= len(v) {
			return nil
		}
		return v[i]
	case map[string]any:
		s, ok := idx.(string)
		if !ok {
			return nil
		}
		return v[s]
	}
	return nil
}

// compareValues applies a comparison operator with numeric coercion for
// int/float mixes. Ordering operators require numbers or strings of the
// same kind.
func compareValues(left, right any, op tokKind) (any, error) {
	ln, lIsNum := toFloat(left)
	rn, rIsNum := toFloat(right)

	switch op {
	case tokEq, tokNeq:
		var equal bool
		if lIsNum && rIsNum {
			equal = ln == rn
		} else {
			equal = scalarEqual(left, right)
		}
		if op == tokNeq {
			return !equal, nil
		}
		return equal, nil
	}

	if lIsNum && rIsNum {
		switch op {
		case tokLt:
			return ln < rn, nil
		case tokLte:
			return ln <= rn, nil
		case tokGt:
			return ln > rn, nil
		case tokGte:
			return ln >= rn, nil
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case tokLt:
			return ls < rs, nil
		case tokLte:
			return ls <= rs, nil
		case tokGt:
			return ls > rs, nil
		case tokGte:
			return ls >= rs, nil
		}
	}

	return nil, fmt.Errorf("cannot order %T and %T", left, right)
}

// scalarEqual checks equality per concrete type. Composite values (maps,
// slices) never compare equal; the Go == operator would panic on them.
func scalarEqual(left, right any) bool {
	if left == nil && right == nil {
		return true
	}
	if left == nil || right == nil {
		return false
	}
	switch l := left.(type) {
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
