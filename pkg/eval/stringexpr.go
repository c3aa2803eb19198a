package eval

import (
	"strconv"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
)

// StringConcat evaluates a string concatenation like `"a " + x + 1`:
// split on + outside quotes, resolve each term, join. Returns false when
// the expression has no + to split on.
func StringConcat(expr string, env Env) (string, bool) {
	if !strings.Contains(expr, "+") {
		return "", false
	}

	var parts []string
	var cur strings.Builder
	inQuotes := false
	escape := false
	for _, ch := range expr {
		if escape {
			cur.WriteRune(ch)
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inQuotes = !inQuotes
			cur.WriteRune(ch)
		case ch == '+' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(ch)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	if len(parts) == 0 {
		return "", false
	}

	var out strings.Builder
	for _, part := range parts {
		term := strings.TrimSpace(part)
		if term == "" {
			continue
		}
		if lit, ok := stripQuotes(term); ok {
			out.WriteString(lit)
			continue
		}
		if env.Vars != nil {
			if v, ok := env.Vars.Get(term); ok {
				out.WriteString(valueText(v))
				continue
			}
		}
		if n, ok := Numeric(term, env); ok {
			out.WriteString(formatFloat(n))
			continue
		}
		// Unresolved bareword: keep it verbatim.
		out.WriteString(term)
	}
	return out.String(), true
}

// Resolve evaluates a raw expression string: numeric first, then string
// concat, else the input unchanged.
func Resolve(expr string, env Env) ast.Value {
	if n, ok := Numeric(expr, env); ok {
		return ast.Number(n)
	}
	if s, ok := StringConcat(expr, env); ok {
		return ast.String(s)
	}
	return ast.String(expr)
}

func stripQuotes(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func valueText(v ast.Value) string {
	switch v.Kind {
	case ast.StringValue, ast.IdentifierValue, ast.SampleValue, ast.BeatValue, ast.ExprValue:
		return v.Str
	case ast.NumberValue:
		return strconv.FormatFloat(float64(v.Num), 'f', -1, 32)
	case ast.BooleanValue:
		return strconv.FormatBool(v.Bool)
	case ast.NullValue:
		return "null"
	}
	return v.Kind.String()
}
