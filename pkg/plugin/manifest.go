// Package plugin loads plugin.toml manifests and runs plugin WASM modules
// through the render_note ABI.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/store"
)

// Manifest is the parsed shape of a plugin.toml file.
type Manifest struct {
	Plugin  PluginSection   `toml:"plugin"`
	Exports []ExportSection `toml:"exports"`
}

// PluginSection is the [plugin] table.
type PluginSection struct {
	Name    string `toml:"name"`
	Author  string `toml:"author"`
	Version string `toml:"version"`
}

// ExportSection is one [[exports]] entry: a typed default the loader
// binds under `<alias>.<name>`.
type ExportSection struct {
	Name    string      `toml:"name"`
	Kind    string      `toml:"kind"`
	Default interface{} `toml:"default"`
}

// ParseManifest decodes a plugin.toml document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse plugin manifest: %w", err)
	}
	return &m, nil
}

// Load reads a plugin directory: the manifest plus the first .wasm module
// found next to it.
func Load(dir, author, name string) (store.PluginEntry, error) {
	manifestPath := filepath.Join(dir, "plugin.toml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return store.PluginEntry{}, fmt.Errorf("read %s: %w", manifestPath, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return store.PluginEntry{}, fmt.Errorf("%s: %w", manifestPath, err)
	}

	info := store.PluginInfo{
		Author:  author,
		Name:    name,
		Version: m.Plugin.Version,
	}
	for _, exp := range m.Exports {
		info.Exports = append(info.Exports, store.PluginExport{
			Name:    exp.Name,
			Kind:    exp.Kind,
			Default: defaultValue(exp),
		})
	}

	var wasmBytes []byte
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".wasm") {
				wasmBytes, _ = os.ReadFile(filepath.Join(dir, e.Name()))
				break
			}
		}
	}

	return store.PluginEntry{Info: info, Wasm: wasmBytes}, nil
}

// FindDir locates a plugin directory under the addon root, trying both
// plural and singular folder names.
func FindDir(devaDir, author, name string) (string, bool) {
	for _, sub := range []string{"plugins", "plugin"} {
		dir := filepath.Join(devaDir, sub, author, name)
		if info, err := os.Stat(filepath.Join(dir, "plugin.toml")); err == nil && !info.IsDir() {
			return dir, true
		}
	}
	return "", false
}

// defaultValue converts a manifest default to an AST value per its kind.
func defaultValue(exp ExportSection) ast.Value {
	switch exp.Kind {
	case "number":
		switch v := exp.Default.(type) {
		case int64:
			return ast.Number(float32(v))
		case float64:
			return ast.Number(float32(v))
		}
	case "bool":
		if b, ok := exp.Default.(bool); ok {
			return ast.Boolean(b)
		}
	case "string", "synth":
		if s, ok := exp.Default.(string); ok {
			return ast.String(s)
		}
	}
	if s, ok := exp.Default.(string); ok {
		return ast.String(s)
	}
	return ast.Null()
}

// URI builds the devalang:// URI of a plugin.
func URI(author, name string) string {
	return "devalang://plugin/" + author + "/" + name
}
