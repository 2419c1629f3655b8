package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/fraudguard/internal/dsl"
)

// celFactsVar is the CEL variable holding the present facts, keyed by
// DSL field name.
const celFactsVar = "facts"

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(celFactsVar, cel.MapType(cel.StringType, cel.DynType)),
	)
}

// ToCEL renders a rule tree as a CEL expression over the facts map. Each
// comparison is guarded by a presence test so absent facts never match.
func ToCEL(e dsl.Expr) string {
	var b strings.Builder
	writeCEL(&b, e)
	return b.String()
}

func writeCEL(b *strings.Builder, e dsl.Expr) {
	switch n := e.(type) {
	case *dsl.Comp:
		key := strconv.Quote(string(n.Field))
		fmt.Fprintf(b, "(%s in %s && %s[%s] %s %s)",
			key, celFactsVar, celFactsVar, key, celOperator(n.Operator), celLiteral(n.Value))
	case *dsl.Not:
		b.WriteString("!")
		writeCEL(b, n.Inner)
	case *dsl.And:
		b.WriteString("(")
		writeCEL(b, n.Left)
		b.WriteString(" && ")
		writeCEL(b, n.Right)
		b.WriteString(")")
	case *dsl.Or:
		b.WriteString("(")
		writeCEL(b, n.Left)
		b.WriteString(" || ")
		writeCEL(b, n.Right)
		b.WriteString(")")
	default:
		panic(fmt.Sprintf("rules: unknown expression type %T", e))
	}
}

func celOperator(op dsl.Operator) string {
	switch op {
	case dsl.OpEQ:
		return "=="
	default:
		return string(op)
	}
}

func celLiteral(v dsl.Value) string {
	if n, ok := v.Number(); ok {
		text := strconv.FormatFloat(n, 'f', -1, 64)
		if !strings.Contains(text, ".") {
			text += ".0"
		}
		return text
	}
	s, _ := v.Str()
	return strconv.Quote(s)
}

func compileCEL(env *cel.Env, e dsl.Expr) (cel.Program, error) {
	ast, issues := env.Compile(ToCEL(e))
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %v", ast.OutputType())
	}
	return env.Program(ast)
}

func evalCEL(program cel.Program, activation map[string]any) (bool, error) {
	out, _, err := program.Eval(activation)
	if err != nil {
		return false, err
	}
	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type %v", out.Type())
	}
	return bool(matched), nil
}
