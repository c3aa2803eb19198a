// Package resolver implements the preprocessor pass: it fills each
// module's variable, function, import and export tables and finalizes
// identifier references so the interpreter can run without re-walking the
// module graph.
package resolver

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/eval"
	"github.com/opd-ai/devalang/pkg/store"
)

// Resolve processes every loaded module: first populating tables in
// source order, then wiring import bindings through export tables, and
// finally merging module symbols into the global store.
func Resolve(g *store.GlobalStore) {
	for _, module := range g.Modules {
		if module.Resolved {
			continue
		}
		processModule(module, g)
		module.Resolved = true
	}

	resolveImports(g)

	for _, module := range g.Modules {
		for name, v := range module.VariableTable.Variables {
			g.Variables.Set(name, v)
		}
		for _, fn := range module.FunctionTable.Functions {
			g.Functions.Set(fn)
		}
	}
}

// processModule walks a module's statements in source order.
func processModule(module *store.Module, g *store.GlobalStore) {
	env := eval.Env{Vars: module.VariableTable, BPM: 120, Beat: 0.5}

	for i, stmt := range module.Statements {
		switch stmt.Kind {
		case ast.LetStatement:
			if stmt.Value.IsNull() {
				logrus.WithFields(logrus.Fields{
					"module": module.Path,
					"line":   stmt.Line,
				}).Errorf("variable '%s' is declared but not initialized", stmt.Name)
				module.Statements[i] = ast.ErrorAt(
					"variable '"+stmt.Name+"' is declared but not initialized",
					stmt.Indent, stmt.Line, stmt.Column)
				continue
			}
			if _, exists := module.VariableTable.GetLocal(stmt.Name); exists {
				logrus.WithFields(logrus.Fields{
					"module": module.Path,
					"line":   stmt.Line,
				}).Errorf("variable '%s' is already defined in this scope", stmt.Name)
				module.Statements[i] = ast.ErrorAt(
					"variable '"+stmt.Name+"' already defined",
					stmt.Indent, stmt.Line, stmt.Column)
				continue
			}
			resolved := ResolveValue(stmt.Value, module, g, env)
			module.Statements[i].Value = resolved
			module.VariableTable.Set(stmt.Name, resolved)

		case ast.LoadStatement:
			path := resolveRelative(module.Path, stmt.Source)
			module.VariableTable.Set(stmt.Alias, ast.Sample(path))

		case ast.ExportStatement:
			for _, name := range stmt.Names {
				if v, ok := module.VariableTable.Get(name); ok {
					module.ExportTable.Add(name, v)
				} else {
					logrus.WithFields(logrus.Fields{
						"module": module.Path,
						"line":   stmt.Line,
					}).Warnf("export '%s' not found in module scope", name)
				}
			}

		case ast.ImportStatement:
			resolved := resolveRelative(module.Path, stmt.Source)
			for _, name := range stmt.Names {
				module.ImportTable.Add(name, resolved)
			}

		case ast.GroupStatement:
			name, body, ok := groupParts(stmt.Value)
			if !ok {
				module.Statements[i] = ast.ErrorAt(
					"invalid group definition",
					stmt.Indent, stmt.Line, stmt.Column)
				continue
			}
			module.VariableTable.Set(name, ast.MapVal(map[string]ast.Value{
				"identifier": ast.String(name),
				"body":       ast.Block(body),
			}))

		case ast.FunctionStatement:
			module.FunctionTable.Set(store.Function{
				Name:   stmt.Name,
				Params: stmt.Params,
				Body:   stmt.Body,
			})

		case ast.PatternStatement:
			if _, exists := g.Variables.GetLocal(stmt.Name); exists {
				logrus.WithFields(logrus.Fields{
					"module": module.Path,
					"line":   stmt.Line,
				}).Errorf("pattern '%s' already exists", stmt.Name)
				module.Statements[i] = ast.ErrorAt(
					"pattern '"+stmt.Name+"' already exists",
					stmt.Indent, stmt.Line, stmt.Column)
				continue
			}
			resolved := stmt
			resolved.Value = ResolveValue(stmt.Value, module, g, env)
			module.Statements[i] = resolved
			g.Variables.Set(stmt.Name, ast.StmtVal(resolved))

		case ast.AutomateStatement:
			// The envelope map is addressable as <target>__automation.
			module.VariableTable.Set(stmt.Target+"__automation",
				ResolveValue(stmt.Value, module, g, env))

		case ast.SynthStatement:
			module.Statements[i].Value = resolveSynth(stmt.Value, module, g, env)
		}
	}

	// A second pass resolves synth literals bound by let after the whole
	// table exists (plugin aliases may be declared below their use).
	for name, v := range module.VariableTable.Variables {
		if isSynthMap(v) {
			module.VariableTable.Set(name, resolveSynth(v, module, g, env))
		}
	}
}

// ResolveValue recursively resolves a parsed value: raw expression
// strings run through the evaluator, identifiers chase module bindings
// and export tables, containers recurse.
func ResolveValue(v ast.Value, module *store.Module, g *store.GlobalStore, env eval.Env) ast.Value {
	switch v.Kind {
	case ast.ExprValue:
		return eval.Resolve(v.Str, env)

	case ast.IdentifierValue:
		return resolveIdentifier(v.Str, module, g)

	case ast.MapValue:
		if isSynthMap(v) {
			return resolveSynth(v, module, g, env)
		}
		out := make(map[string]ast.Value, len(v.Map))
		for k, inner := range v.Map {
			out[k] = ResolveValue(inner, module, g, env)
		}
		return ast.MapVal(out)

	case ast.ArrayValue:
		out := make([]ast.Value, len(v.Items))
		for i, inner := range v.Items {
			out[i] = ResolveValue(inner, module, g, env)
		}
		return ast.Array(out)
	}
	return v
}

// resolveIdentifier implements the lookup contract: local table (with
// parents), then any module's export table, otherwise the identifier is
// left for runtime (loop variables).
func resolveIdentifier(name string, module *store.Module, g *store.GlobalStore) ast.Value {
	if v, ok := module.VariableTable.Get(name); ok {
		return v
	}
	if v, ok := g.LookupExport(name); ok {
		return v
	}
	return ast.Identifier(name)
}

// resolveImports binds imported names to the values the source modules
// export. Missing targets degrade to error statements on the importer.
func resolveImports(g *store.GlobalStore) {
	for _, module := range g.Modules {
		for name, sourcePath := range module.ImportTable.Imports {
			target, ok := g.Module(sourcePath)
			if !ok {
				appendError(module, "import source '"+sourcePath+"' not loaded")
				continue
			}
			v, ok := target.ExportTable.Get(name)
			if !ok {
				appendError(module, "import '"+name+"' not found in "+sourcePath)
				continue
			}
			module.VariableTable.Set(name, v)
		}
	}
}

func appendError(module *store.Module, message string) {
	logrus.WithField("module", module.Path).Error(message)
	module.Statements = append(module.Statements, ast.ErrorAt(message, 0, 0, 0))
}

// resolveSynth resolves a synth literal's parameters and, when the
// waveform names a plugin alias, merges the plugin's exported defaults
// under the user's parameters.
func resolveSynth(v ast.Value, module *store.Module, g *store.GlobalStore, env eval.Env) ast.Value {
	inner, ok := v.MapGet("value")
	if !ok || inner.Kind != ast.MapValue {
		return v
	}

	params := map[string]ast.Value{}
	if p, ok := inner.MapGet("parameters"); ok && p.Kind == ast.MapValue {
		for k, pv := range p.Map {
			params[k] = ResolveValue(pv, module, g, env)
		}
	}

	waveform := ""
	if w, ok := inner.MapGet("waveform"); ok {
		waveform, _ = w.AsString()
	}

	// alias.synth waveforms pull plugin-exported defaults; user values win.
	if strings.HasSuffix(waveform, ".synth") {
		alias := strings.TrimSuffix(waveform, ".synth")
		if uriVal, ok := module.VariableTable.Get(alias); ok {
			if uri, ok := uriVal.AsString(); ok && strings.HasPrefix(uri, "devalang://plugin/") {
				id := strings.TrimPrefix(uri, "devalang://plugin/")
				author, name, _ := strings.Cut(id, "/")
				if entry, ok := g.Plugin(author + ":" + name); ok {
					for _, exp := range entry.Info.Exports {
						if _, exists := params[exp.Name]; !exists && !exp.Default.IsNull() {
							params[exp.Name] = exp.Default
						}
					}
				}
			}
		}
	}

	return ast.MapVal(map[string]ast.Value{
		"entity": ast.String("synth"),
		"value": ast.MapVal(map[string]ast.Value{
			"waveform":   ast.Identifier(waveform),
			"parameters": ast.MapVal(params),
		}),
	})
}

func isSynthMap(v ast.Value) bool {
	entity, ok := v.MapGet("entity")
	if !ok {
		return false
	}
	s, _ := entity.AsString()
	return s == "synth"
}

func groupParts(v ast.Value) (string, []ast.Statement, bool) {
	nameVal, ok := v.MapGet("identifier")
	if !ok {
		return "", nil, false
	}
	name, ok := nameVal.AsString()
	if !ok {
		return "", nil, false
	}
	body, ok := v.MapGet("body")
	if !ok || body.Kind != ast.BlockValue {
		return "", nil, false
	}
	return name, body.Block, true
}

// resolveRelative resolves an import/load source against the directory of
// the importing module.
func resolveRelative(modulePath, source string) string {
	dir := ""
	if idx := strings.LastIndexAny(modulePath, "/"); idx >= 0 {
		dir = modulePath[:idx]
	}
	if dir == "" {
		return store.NormalizePath(source)
	}
	return store.NormalizePath(dir + "/" + source)
}
