package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/resolver"
	"github.com/opd-ai/devalang/pkg/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRawSource(t *testing.T) {
	g := store.NewGlobalStore()
	l := New("main.deva", "out", registry.New())
	if err := l.LoadRawSource("main.deva", "bpm 120\n.kick 1/4\n", g); err != nil {
		t.Fatalf("LoadRawSource failed: %v", err)
	}

	module, ok := g.Module("main.deva")
	if !ok {
		t.Fatal("module not registered")
	}
	if len(module.Statements) != 2 {
		t.Errorf("statements = %d, want 2", len(module.Statements))
	}
	if len(module.Tokens) == 0 {
		t.Error("tokens must be retained")
	}
}

func TestLoadDeduplicates(t *testing.T) {
	g := store.NewGlobalStore()
	l := New("main.deva", "out", registry.New())
	if err := l.LoadRawSource("main.deva", "bpm 120\n", g); err != nil {
		t.Fatal(err)
	}
	// A second load of the same path must be a no-op.
	if err := l.LoadRawSource("main.deva", "bpm 90\n", g); err != nil {
		t.Fatal(err)
	}
	module, _ := g.Module("main.deva")
	if module.Statements[0].Value.Num != 120 {
		t.Error("second load must not replace the first")
	}
}

func TestLoadImports(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.deva")
	main := filepath.Join(dir, "main.deva")
	writeFile(t, lib, "let shared = 42\n@export { shared }\n")
	writeFile(t, main, "@import { shared } from \"./lib.deva\"\nbpm shared\n")

	g := store.NewGlobalStore()
	l := New(main, "out", registry.New())
	if err := l.LoadAllModules(g); err != nil {
		t.Fatalf("LoadAllModules failed: %v", err)
	}

	if len(g.Modules) != 2 {
		t.Fatalf("module count = %d, want 2", len(g.Modules))
	}

	resolver.Resolve(g)
	mainModule, _ := g.Module(main)
	v, ok := mainModule.VariableTable.Get("shared")
	if !ok || v.Num != 42 {
		t.Errorf("imported binding = %+v, want Number(42)", v)
	}
}

func TestImportCycleTerminates(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.deva")
	b := filepath.Join(dir, "b.deva")
	writeFile(t, a, "@import { x } from \"./b.deva\"\nlet y = 1\n@export { y }\n")
	writeFile(t, b, "@import { y } from \"./a.deva\"\nlet x = 2\n@export { x }\n")

	g := store.NewGlobalStore()
	l := New(a, "out", registry.New())
	if err := l.LoadAllModules(g); err != nil {
		t.Fatalf("cyclic import must not fail: %v", err)
	}
	if len(g.Modules) != 2 {
		t.Errorf("module count = %d, want 2", len(g.Modules))
	}
}

func TestBankFallbackBindings(t *testing.T) {
	g := store.NewGlobalStore()
	l := New("main.deva", "out", registry.New())
	if err := l.LoadRawSource("main.deva", "bank 808\n.808.kick 1/4\n", g); err != nil {
		t.Fatal(err)
	}

	module, _ := g.Module("main.deva")
	v, ok := module.VariableTable.Get("808.kick")
	if !ok {
		t.Fatal("missing 808.kick binding")
	}
	if s, _ := v.AsString(); s != "devalang://bank/808/kick" {
		t.Errorf("uri = %q", s)
	}

	aliasMap, ok := module.VariableTable.Get("808")
	if !ok || aliasMap.Kind != ast.MapValue {
		t.Error("alias must bind to a trigger map")
	}
}

func TestBankFromManifest(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.deva")
	writeFile(t, main, "bank devaloop.808 as drums\n")
	writeFile(t, filepath.Join(dir, ".deva", "banks", "devaloop", "808", "bank.toml"), `[bank]
name = "808"
publisher = "devaloop"
audio_path = "audio"

[[triggers]]
name = "kick"
path = "kick.wav"
`)

	reg := registry.New()
	g := store.NewGlobalStore()
	l := New(main, "out", reg)
	if err := l.LoadAllModules(g); err != nil {
		t.Fatalf("LoadAllModules failed: %v", err)
	}

	module, _ := g.Module(main)
	v, ok := module.VariableTable.Get("drums.kick")
	if !ok {
		t.Fatal("missing drums.kick binding")
	}
	if s, _ := v.AsString(); s != "devalang://bank/devaloop.808/kick.wav" {
		t.Errorf("uri = %q", s)
	}
	if !reg.HasBank("devaloop.808") {
		t.Error("bank metadata must be registered")
	}
}

func TestMissingPluginAppendsError(t *testing.T) {
	g := store.NewGlobalStore()
	l := New("main.deva", "out", registry.New())
	if err := l.LoadRawSource("main.deva", "@use devaloop.synthpack as sp\n", g); err != nil {
		t.Fatal(err)
	}
	module, _ := g.Module("main.deva")
	var found bool
	for _, stmt := range module.Statements {
		if stmt.Kind == ast.ErrorStatement {
			found = true
		}
	}
	if !found {
		t.Error("missing plugin must append a non-fatal error statement")
	}
}
