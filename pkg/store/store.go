// Package store holds the shared symbol tables and the per-compilation
// global store that connect the loader, resolver and interpreter.
package store

import (
	"path/filepath"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
)

// VariableTable is a lexically nested name→value map. Lookup walks the
// parent chain; Set always writes the local level.
type VariableTable struct {
	Variables map[string]ast.Value
	Parent    *VariableTable
}

// NewVariableTable creates an empty root table.
func NewVariableTable() *VariableTable {
	return &VariableTable{Variables: make(map[string]ast.Value)}
}

// NewChildTable creates an empty table whose lookups fall through to parent.
func NewChildTable(parent *VariableTable) *VariableTable {
	return &VariableTable{Variables: make(map[string]ast.Value), Parent: parent}
}

// Set binds a name at the local level.
func (t *VariableTable) Set(name string, v ast.Value) {
	if t.Variables == nil {
		t.Variables = make(map[string]ast.Value)
	}
	t.Variables[name] = v
}

// Get resolves a name, walking the parent chain.
func (t *VariableTable) Get(name string) (ast.Value, bool) {
	for cur := t; cur != nil; cur = cur.Parent {
		if v, ok := cur.Variables[name]; ok {
			return v, true
		}
	}
	return ast.Value{}, false
}

// GetLocal resolves a name at the local level only.
func (t *VariableTable) GetLocal(name string) (ast.Value, bool) {
	v, ok := t.Variables[name]
	return v, ok
}

// Clone deep-copies the table and its parent chain so child scopes never
// alias the parent's mutable state.
func (t *VariableTable) Clone() *VariableTable {
	if t == nil {
		return NewVariableTable()
	}
	out := &VariableTable{Variables: make(map[string]ast.Value, len(t.Variables))}
	for k, v := range t.Variables {
		out.Variables[k] = v.Clone()
	}
	if t.Parent != nil {
		out.Parent = t.Parent.Clone()
	}
	return out
}

// Flatten collapses the parent chain into a single-level table. Local
// bindings shadow parent bindings.
func (t *VariableTable) Flatten() *VariableTable {
	out := NewVariableTable()
	var layers []*VariableTable
	for cur := t; cur != nil; cur = cur.Parent {
		layers = append(layers, cur)
	}
	// Apply outermost first so inner levels win.
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i].Variables {
			out.Variables[k] = v.Clone()
		}
	}
	return out
}

// Function is a user-defined fn with its parameter list and body.
type Function struct {
	Name   string
	Params []string
	Body   []ast.Statement
}

// FunctionTable maps function names to definitions.
type FunctionTable struct {
	Functions map[string]Function
}

// NewFunctionTable creates an empty function table.
func NewFunctionTable() *FunctionTable {
	return &FunctionTable{Functions: make(map[string]Function)}
}

// Set registers a function definition, replacing any previous one.
func (t *FunctionTable) Set(fn Function) {
	if t.Functions == nil {
		t.Functions = make(map[string]Function)
	}
	t.Functions[fn.Name] = fn
}

// Get looks up a function by name.
func (t *FunctionTable) Get(name string) (Function, bool) {
	fn, ok := t.Functions[name]
	return fn, ok
}

// Clone deep-copies the table.
func (t *FunctionTable) Clone() *FunctionTable {
	out := NewFunctionTable()
	if t == nil {
		return out
	}
	for name, fn := range t.Functions {
		cp := fn
		cp.Params = append([]string(nil), fn.Params...)
		cp.Body = ast.CloneStatements(fn.Body)
		out.Functions[name] = cp
	}
	return out
}

// ExportTable holds the resolved values a module exposes to importers.
type ExportTable struct {
	Exports map[string]ast.Value
}

// NewExportTable creates an empty export table.
func NewExportTable() *ExportTable {
	return &ExportTable{Exports: make(map[string]ast.Value)}
}

// Add registers an exported binding.
func (t *ExportTable) Add(name string, v ast.Value) {
	if t.Exports == nil {
		t.Exports = make(map[string]ast.Value)
	}
	t.Exports[name] = v
}

// Get looks up an exported binding.
func (t *ExportTable) Get(name string) (ast.Value, bool) {
	v, ok := t.Exports[name]
	return v, ok
}

// ImportTable maps imported names to the normalized path of the exporting
// module. Values are resolved lazily through that module's export table.
type ImportTable struct {
	Imports map[string]string
}

// NewImportTable creates an empty import table.
func NewImportTable() *ImportTable {
	return &ImportTable{Imports: make(map[string]string)}
}

// Add records that name comes from the module at path.
func (t *ImportTable) Add(name, path string) {
	if t.Imports == nil {
		t.Imports = make(map[string]string)
	}
	t.Imports[name] = path
}

// Get returns the source module path for an imported name.
func (t *ImportTable) Get(name string) (string, bool) {
	p, ok := t.Imports[name]
	return p, ok
}

// NormalizePath canonicalizes a module path: forward slashes, cleaned.
func NormalizePath(path string) string {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	return strings.TrimPrefix(cleaned, "./")
}
