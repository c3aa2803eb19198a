package resolver

import (
	"testing"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/lexer"
	"github.com/opd-ai/devalang/pkg/parser"
	"github.com/opd-ai/devalang/pkg/store"
)

func resolveSource(t *testing.T, src string) (*store.Module, *store.GlobalStore) {
	t.Helper()
	g := store.NewGlobalStore()
	module := store.NewModule("test.deva")
	module.Content = src
	module.Tokens = lexer.New().Lex(src)
	module.Statements = parser.New("test.deva").Parse(module.Tokens)
	g.InsertModule(module)
	Resolve(g)
	return module, g
}

func TestResolveLet(t *testing.T) {
	module, _ := resolveSource(t, "let x = 5\nlet y = x\nlet z = 1 + 2\n")

	if v, _ := module.VariableTable.Get("x"); v.Num != 5 {
		t.Errorf("x = %+v, want 5", v)
	}
	if v, _ := module.VariableTable.Get("y"); v.Kind != ast.NumberValue || v.Num != 5 {
		t.Errorf("y = %+v, want resolved Number(5)", v)
	}
	if v, _ := module.VariableTable.Get("z"); v.Kind != ast.NumberValue || v.Num != 3 {
		t.Errorf("z = %+v, want evaluated Number(3)", v)
	}
}

func TestResolveRejectsRedefinition(t *testing.T) {
	module, _ := resolveSource(t, "let x = 1\nlet x = 2\n")

	if v, _ := module.VariableTable.Get("x"); v.Num != 1 {
		t.Errorf("x = %+v, first definition must win", v)
	}
	var sawError bool
	for _, stmt := range module.Statements {
		if stmt.Kind == ast.ErrorStatement {
			sawError = true
		}
	}
	if !sawError {
		t.Error("redefinition must produce an error statement")
	}
}

func TestResolveGroupBinding(t *testing.T) {
	module, _ := resolveSource(t, "group beat:\n  .kick 1/4\n")
	v, ok := module.VariableTable.Get("beat")
	if !ok || v.Kind != ast.MapValue {
		t.Fatalf("beat binding = %+v, %v", v, ok)
	}
	body, _ := v.MapGet("body")
	if body.Kind != ast.BlockValue || len(body.Block) != 1 {
		t.Errorf("group body = %+v", body)
	}
}

func TestResolvePatternGlobal(t *testing.T) {
	_, g := resolveSource(t, "pattern p with kick = \"x-x-\"\n")
	v, ok := g.Variables.Get("p")
	if !ok || v.Kind != ast.StatementValue {
		t.Fatalf("pattern binding = %+v, %v", v, ok)
	}
	if v.Stmt.Kind != ast.PatternStatement || v.Stmt.Target != "kick" {
		t.Errorf("pattern statement = %+v", v.Stmt)
	}
}

func TestResolveDuplicatePattern(t *testing.T) {
	module, _ := resolveSource(t, "pattern p = \"x\"\npattern p = \"y\"\n")
	var sawError bool
	for _, stmt := range module.Statements {
		if stmt.Kind == ast.ErrorStatement {
			sawError = true
		}
	}
	if !sawError {
		t.Error("duplicate pattern must produce an error statement")
	}
}

func TestResolveFunctions(t *testing.T) {
	module, g := resolveSource(t, "fn play(a):\n  sleep a\n")
	fn, ok := module.FunctionTable.Get("play")
	if !ok || len(fn.Params) != 1 || len(fn.Body) != 1 {
		t.Errorf("function = %+v, %v", fn, ok)
	}
	if _, ok := g.Functions.Get("play"); !ok {
		t.Error("functions must merge into the global store")
	}
}

func TestResolveAutomationBinding(t *testing.T) {
	module, _ := resolveSource(t, "automate lead:\n  param volume { 0: 0.5 }\n")
	v, ok := module.VariableTable.Get("lead__automation")
	if !ok {
		t.Fatal("missing automation binding")
	}
	params, _ := v.MapGet("params")
	if _, ok := params.MapGet("volume"); !ok {
		t.Error("missing volume envelope")
	}
}

func TestResolveSynthLiteral(t *testing.T) {
	module, _ := resolveSource(t, "let s = synth sine { attack: 10 }\n")
	v, _ := module.VariableTable.Get("s")
	entity, _ := v.MapGet("entity")
	if s, _ := entity.AsString(); s != "synth" {
		t.Errorf("entity = %q", s)
	}
}

func TestResolveExports(t *testing.T) {
	module, _ := resolveSource(t, "let shared = 42\n@export { shared }\n")
	v, ok := module.ExportTable.Get("shared")
	if !ok || v.Num != 42 {
		t.Errorf("export = %+v, %v", v, ok)
	}
}

func TestResolveLoadBindsSample(t *testing.T) {
	module, _ := resolveSource(t, "@load \"sounds/kick.wav\" as kick\n")
	v, ok := module.VariableTable.Get("kick")
	if !ok || v.Kind != ast.SampleValue {
		t.Fatalf("kick = %+v, %v", v, ok)
	}
	if v.Str != "sounds/kick.wav" {
		t.Errorf("sample path = %q", v.Str)
	}
}
