// Package loader loads the module graph reachable from an entry file:
// lexing, parsing, bank trigger injection, plugin registration and
// recursive import resolution with per-path deduplication.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/bank"
	"github.com/opd-ai/devalang/pkg/lexer"
	"github.com/opd-ai/devalang/pkg/parser"
	"github.com/opd-ai/devalang/pkg/plugin"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/store"
)

// ModuleLoader drives loading for one compilation.
type ModuleLoader struct {
	Entry   string
	Output  string
	BaseDir string

	// DevaDir is the project-local addon root (.deva). Banks and plugins
	// resolve under it.
	DevaDir string

	// Registry receives bank metadata for lazy sample loading.
	Registry *registry.Registry
}

// New creates a loader for an entry path. The addon root defaults to
// `.deva` next to the entry's project directory.
func New(entry, output string, reg *registry.Registry) *ModuleLoader {
	baseDir := filepath.ToSlash(filepath.Dir(entry))
	return &ModuleLoader{
		Entry:    store.NormalizePath(entry),
		Output:   output,
		BaseDir:  baseDir,
		DevaDir:  filepath.Join(filepath.Dir(entry), ".deva"),
		Registry: reg,
	}
}

// LoadAllModules loads the entry module and everything reachable from it.
// A module already present in the store is skipped, which also breaks
// import cycles.
func (l *ModuleLoader) LoadAllModules(g *store.GlobalStore) error {
	return l.loadRecursively(l.Entry, g)
}

// LoadRawSource loads in-memory source under a virtual path, then follows
// its imports from disk as usual.
func (l *ModuleLoader) LoadRawSource(virtualPath, content string, g *store.GlobalStore) error {
	normalized := store.NormalizePath(virtualPath)
	if _, ok := g.Module(normalized); ok {
		return nil
	}
	module := store.NewModule(normalized)
	module.Content = content
	return l.loadModule(module, g)
}

func (l *ModuleLoader) loadRecursively(rawPath string, g *store.GlobalStore) error {
	normalized := store.NormalizePath(rawPath)
	if _, ok := g.Module(normalized); ok {
		return nil
	}

	content, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read module %s: %w", rawPath, err)
	}

	module := store.NewModule(normalized)
	module.Content = string(content)
	return l.loadModule(module, g)
}

// loadModule lexes and parses one module, injects bank and plugin
// bindings, registers it and recurses into its imports.
func (l *ModuleLoader) loadModule(module *store.Module, g *store.GlobalStore) error {
	lx := lexer.New()
	module.Tokens = lx.Lex(module.Content)

	p := parser.New(module.Path)
	module.Statements = p.Parse(module.Tokens)

	g.InsertModule(module)

	for _, stmt := range module.Statements {
		switch stmt.Kind {
		case ast.BankStatement:
			l.injectBank(module, stmt)
		case ast.UseStatement:
			l.loadPlugin(module, stmt, g)
		}
	}

	for _, stmt := range module.Statements {
		if stmt.Kind != ast.ImportStatement {
			continue
		}
		resolved := l.resolveImportPath(module.Path, stmt.Source)
		if err := l.loadRecursively(resolved, g); err != nil {
			logrus.WithFields(logrus.Fields{
				"module": module.Path,
				"import": stmt.Source,
			}).WithError(err).Error("failed to load import")
			module.Statements = append(module.Statements, ast.ErrorAt(
				"import source '"+stmt.Source+"' not loaded",
				stmt.Indent, stmt.Line, stmt.Column))
		}
	}

	return nil
}

// injectBank binds a bank's triggers as addressable identifiers: every
// trigger as `<alias>.<name>` and the alias itself as a trigger→URI map.
func (l *ModuleLoader) injectBank(module *store.Module, stmt ast.Statement) {
	name, _ := stmt.Value.AsString()
	if name == "" {
		return
	}
	alias := stmt.Alias
	if alias == "" {
		parts := strings.Split(name, ".")
		alias = parts[len(parts)-1]
	}

	dir, ok := bank.FindManifestDir(l.DevaDir, name)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": module.Path,
			"bank":   name,
		}).Warn("bank not found under addon directory")
		// The alias still binds so triggers resolve to URIs; the synthetic
		// fallback keeps renders useful without downloaded banks.
		l.bindFallbackBank(module, name, alias)
		return
	}

	meta, err := bank.LoadMetadata(dir)
	if err != nil {
		module.Statements = append(module.Statements, ast.ErrorAt(
			"invalid bank manifest for '"+name+"': "+err.Error(),
			stmt.Indent, stmt.Line, stmt.Column))
		return
	}
	if l.Registry != nil {
		l.Registry.RegisterBank(meta)
	}

	bankMap := make(map[string]ast.Value, len(meta.Triggers))
	for trigger, path := range meta.Triggers {
		uri := "devalang://bank/" + name + "/" + path
		bankMap[trigger] = ast.String(uri)
		module.VariableTable.Set(alias+"."+trigger, ast.String(uri))
	}
	module.VariableTable.Set(alias, ast.MapVal(bankMap))
}

// bindFallbackBank binds the common drum names so a missing bank still
// resolves to synthetic samples.
func (l *ModuleLoader) bindFallbackBank(module *store.Module, name, alias string) {
	drums := []string{"kick", "snare", "hihat", "clap", "tom", "tom-mid", "tom-low", "cowbell", "cymbal", "perc"}
	bankMap := make(map[string]ast.Value, len(drums))
	for _, drum := range drums {
		uri := "devalang://bank/" + name + "/" + drum
		bankMap[drum] = ast.String(uri)
		module.VariableTable.Set(alias+"."+drum, ast.String(uri))
	}
	module.VariableTable.Set(alias, ast.MapVal(bankMap))
}

// loadPlugin registers a plugin's manifest and WASM bytes and binds the
// alias to the plugin URI plus its exported defaults.
func (l *ModuleLoader) loadPlugin(module *store.Module, stmt ast.Statement, g *store.GlobalStore) {
	author, name, ok := strings.Cut(stmt.Name, ".")
	if !ok || author == "" || name == "" {
		module.Statements = append(module.Statements, ast.ErrorAt(
			"invalid plugin name '"+stmt.Name+"': expected <author>.<name>",
			stmt.Indent, stmt.Line, stmt.Column))
		return
	}
	alias := stmt.Alias
	if alias == "" {
		alias = name
	}

	dir, ok := plugin.FindDir(l.DevaDir, author, name)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": module.Path,
			"plugin": stmt.Name,
		}).Warn("plugin not found under addon directory")
		module.Statements = append(module.Statements, ast.ErrorAt(
			"plugin '"+stmt.Name+"' not found",
			stmt.Indent, stmt.Line, stmt.Column))
		return
	}

	entry, err := plugin.Load(dir, author, name)
	if err != nil {
		module.Statements = append(module.Statements, ast.ErrorAt(
			"invalid plugin manifest for '"+stmt.Name+"': "+err.Error(),
			stmt.Indent, stmt.Line, stmt.Column))
		return
	}
	g.RegisterPlugin(entry)

	module.VariableTable.Set(alias, ast.String(plugin.URI(author, name)))
	for _, exp := range entry.Info.Exports {
		if !exp.Default.IsNull() {
			module.VariableTable.Set(alias+"."+exp.Name, exp.Default)
		}
	}
}

// resolveImportPath resolves an import source against the importing
// module's directory.
func (l *ModuleLoader) resolveImportPath(modulePath, source string) string {
	dir := filepath.Dir(filepath.FromSlash(modulePath))
	return store.NormalizePath(filepath.Join(dir, filepath.FromSlash(source)))
}

// StatementsByModule snapshots every module's statement list.
func StatementsByModule(g *store.GlobalStore) map[string][]ast.Statement {
	out := make(map[string][]ast.Statement, len(g.Modules))
	for path, module := range g.Modules {
		out[path] = module.Statements
	}
	return out
}
