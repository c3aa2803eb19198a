package store

import (
	"sync"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/token"
)

// Module is one source file with its lexed, parsed and resolved state.
// Modules are keyed in the GlobalStore by normalized path and parsed at
// most once per compilation.
type Module struct {
	Path          string
	Content       string
	Tokens        []token.Token
	Statements    []ast.Statement
	VariableTable *VariableTable
	FunctionTable *FunctionTable
	ImportTable   *ImportTable
	ExportTable   *ExportTable
	Resolved      bool
}

// NewModule creates an empty module for the given normalized path.
func NewModule(path string) *Module {
	return &Module{
		Path:          path,
		VariableTable: NewVariableTable(),
		FunctionTable: NewFunctionTable(),
		ImportTable:   NewImportTable(),
		ExportTable:   NewExportTable(),
	}
}

// PluginExport is one exported symbol from a plugin manifest.
type PluginExport struct {
	Name    string
	Kind    string
	Default ast.Value
}

// PluginInfo is the consumed subset of a plugin.toml manifest.
type PluginInfo struct {
	Author  string
	Name    string
	Version string
	Exports []PluginExport
}

// PluginEntry is a registered plugin: its manifest info plus the raw WASM
// module bytes it ships.
type PluginEntry struct {
	Info PluginInfo
	Wasm []byte
}

// GlobalStore is the shared state of one compilation: all loaded modules,
// the merged global tables, registered plugins and event handlers.
type GlobalStore struct {
	Modules       map[string]*Module
	Variables     *VariableTable
	Functions     *FunctionTable
	Plugins       map[string]PluginEntry
	EventHandlers map[string][]ast.Statement

	// handlerMu guards EventHandlers: handlers can register from spawned
	// bodies while siblings run.
	handlerMu sync.Mutex
}

// NewGlobalStore creates an empty store.
func NewGlobalStore() *GlobalStore {
	return &GlobalStore{
		Modules:       make(map[string]*Module),
		Variables:     NewVariableTable(),
		Functions:     NewFunctionTable(),
		Plugins:       make(map[string]PluginEntry),
		EventHandlers: make(map[string][]ast.Statement),
	}
}

// Module returns the module registered under a normalized path.
func (g *GlobalStore) Module(path string) (*Module, bool) {
	m, ok := g.Modules[NormalizePath(path)]
	return m, ok
}

// InsertModule registers a module under its normalized path.
func (g *GlobalStore) InsertModule(m *Module) {
	g.Modules[NormalizePath(m.Path)] = m
}

// RegisterPlugin stores a plugin under its "author:name" key.
func (g *GlobalStore) RegisterPlugin(entry PluginEntry) {
	g.Plugins[entry.Info.Author+":"+entry.Info.Name] = entry
}

// Plugin looks up a plugin by "author:name" key.
func (g *GlobalStore) Plugin(key string) (PluginEntry, bool) {
	e, ok := g.Plugins[key]
	return e, ok
}

// AddEventHandler appends a handler statement for an event name.
func (g *GlobalStore) AddEventHandler(event string, handler ast.Statement) {
	g.handlerMu.Lock()
	defer g.handlerMu.Unlock()
	g.EventHandlers[event] = append(g.EventHandlers[event], handler)
}

// EventHandlersFor snapshots the registered handlers for an event.
func (g *GlobalStore) EventHandlersFor(event string) []ast.Statement {
	g.handlerMu.Lock()
	defer g.handlerMu.Unlock()
	return append([]ast.Statement(nil), g.EventHandlers[event]...)
}

// LookupExport searches every module's export table for a name. The first
// hit wins; ambiguity across modules is tolerated.
func (g *GlobalStore) LookupExport(name string) (ast.Value, bool) {
	for _, m := range g.Modules {
		if v, ok := m.ExportTable.Get(name); ok {
			return v, true
		}
	}
	return ast.Value{}, false
}
