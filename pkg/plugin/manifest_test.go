package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/devalang/pkg/ast"
)

const sampleManifest = `[plugin]
name = "synthpack"
author = "devaloop"
version = "0.3.1"

[[exports]]
name = "attack"
kind = "number"
default = 12

[[exports]]
name = "waveshape"
kind = "string"
default = "sine"

[[exports]]
name = "stereo"
kind = "bool"
default = true

[[exports]]
name = "synth"
kind = "synth"
default = "lead"
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if m.Plugin.Version != "0.3.1" {
		t.Errorf("version = %q", m.Plugin.Version)
	}
	if len(m.Exports) != 4 {
		t.Fatalf("exports = %d, want 4", len(m.Exports))
	}
}

func TestLoadPluginDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "synthpack.wasm"), []byte{0x00, 0x61, 0x73, 0x6d}, 0o644); err != nil {
		t.Fatal(err)
	}

	entry, err := Load(dir, "devaloop", "synthpack")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if entry.Info.Author != "devaloop" || entry.Info.Name != "synthpack" {
		t.Errorf("info = %+v", entry.Info)
	}
	if len(entry.Wasm) != 4 {
		t.Errorf("wasm bytes = %d, want 4", len(entry.Wasm))
	}

	byName := map[string]ast.Value{}
	for _, exp := range entry.Info.Exports {
		byName[exp.Name] = exp.Default
	}
	if v := byName["attack"]; v.Kind != ast.NumberValue || v.Num != 12 {
		t.Errorf("attack default = %+v", v)
	}
	if v := byName["waveshape"]; v.Kind != ast.StringValue || v.Str != "sine" {
		t.Errorf("waveshape default = %+v", v)
	}
	if v := byName["stereo"]; v.Kind != ast.BooleanValue || !v.Bool {
		t.Errorf("stereo default = %+v", v)
	}
}

func TestFindDir(t *testing.T) {
	deva := t.TempDir()
	dir := filepath.Join(deva, "plugins", "devaloop", "synthpack")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := FindDir(deva, "devaloop", "synthpack")
	if !ok || got != dir {
		t.Errorf("FindDir = (%q, %v), want (%q, true)", got, ok, dir)
	}
	if _, ok := FindDir(deva, "devaloop", "missing"); ok {
		t.Error("missing plugin must not resolve")
	}
}

func TestURI(t *testing.T) {
	if got := URI("devaloop", "synthpack"); got != "devalang://plugin/devaloop/synthpack" {
		t.Errorf("URI = %q", got)
	}
}

func TestEncodeParamsDeterministic(t *testing.T) {
	a := encodeParams(map[string]float32{"b": 2, "a": 1}, map[string]string{"c": "x"})
	b := encodeParams(map[string]float32{"a": 1, "b": 2}, map[string]string{"c": "x"})
	if string(a) != string(b) {
		t.Errorf("encodeParams not deterministic: %q vs %q", a, b)
	}
	if string(a) != "a=1\nb=2\nc=x" {
		t.Errorf("encodeParams = %q", a)
	}
}
