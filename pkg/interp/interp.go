// Package interp walks resolved statements, maintaining the musical
// cursor and max-end marker while driving the audio engine.
package interp

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/engine"
	"github.com/opd-ai/devalang/pkg/eval"
	"github.com/opd-ai/devalang/pkg/store"
)

// DefaultBPM is the tempo before any bpm statement.
const DefaultBPM = 120

// Interpreter executes one program against an engine.
type Interpreter struct {
	Global *store.GlobalStore
}

// New creates an interpreter over a global store.
func New(g *store.GlobalStore) *Interpreter {
	return &Interpreter{Global: g}
}

// Run executes the entry statements and returns (maxEnd, cursor) in
// seconds.
func (it *Interpreter) Run(statements []ast.Statement, eng *engine.Engine) (float32, float32) {
	vars := it.Global.Variables.Clone()
	funcs := it.Global.Functions.Clone()
	baseBPM := float32(DefaultBPM)
	return it.ExecuteBlock(eng, vars, funcs, statements, baseBPM, 60/baseBPM, 0, 0)
}

// ExecuteBlock runs a statement list. Sequential statements execute in
// source order; sibling spawns execute in parallel on cloned engines and
// merge back deterministically in source order after all complete.
// Returns (maxEnd, cursor); maxEnd >= cursor always holds.
func (it *Interpreter) ExecuteBlock(
	eng *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	statements []ast.Statement,
	baseBPM, baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	var spawns []ast.Statement

	for _, stmt := range statements {
		switch stmt.Kind {
		case ast.SpawnStatement:
			spawns = append(spawns, stmt)

		case ast.LetStatement:
			vars.Set(stmt.Name, it.evalRHS(stmt.Value, vars, baseBPM, baseDuration, cursor))

		case ast.LoadStatement:
			vars.Set(stmt.Alias, ast.Sample(stmt.Source))

		case ast.FunctionStatement:
			funcs.Set(store.Function{Name: stmt.Name, Params: stmt.Params, Body: stmt.Body})

		case ast.TempoStatement:
			if bpm, ok := it.tempoValue(stmt, vars); ok {
				baseBPM = bpm
				baseDuration = 60 / baseBPM
			}

		case ast.TriggerStatement:
			maxEnd, cursor = it.execTrigger(stmt, eng, vars, baseDuration, maxEnd, cursor)

		case ast.SleepStatement:
			maxEnd, cursor = execSleep(stmt, baseDuration, maxEnd, cursor)

		case ast.LoopStatement:
			maxEnd, cursor = it.execLoop(stmt, eng, vars, funcs, baseBPM, baseDuration, maxEnd, cursor)

		case ast.CallStatement:
			maxEnd, cursor = it.execCall(stmt, eng, vars, funcs, baseBPM, baseDuration, maxEnd, cursor)

		case ast.ArrowCallStatement:
			maxEnd, cursor = it.execArrowCall(stmt, eng, vars, baseBPM, baseDuration, maxEnd, cursor, true)

		case ast.IfStatement:
			maxEnd, cursor = it.execCondition(stmt, eng, vars, funcs, baseBPM, baseDuration, maxEnd, cursor)

		case ast.PatternStatement:
			// The resolver registers module-level patterns globally; a
			// pattern inside a block binds into the running scope only.
			vars.Set(stmt.Name, ast.StmtVal(stmt))

		case ast.GroupStatement:
			if name, ok := stmt.Value.MapGet("identifier"); ok {
				if s, ok := name.AsString(); ok {
					vars.Set(s, stmt.Value)
				}
			}

		case ast.AutomateStatement:
			vars.Set(stmt.Target+"__automation", stmt.Value)

		case ast.OnStatement:
			it.Global.AddEventHandler(stmt.Name, stmt)

		case ast.EmitStatement:
			maxEnd, cursor = it.execEmit(stmt, eng, vars, funcs, baseBPM, baseDuration, maxEnd, cursor)

		case ast.PrintStatement:
			it.execPrint(stmt, vars, baseBPM, baseDuration, cursor)

		case ast.BankStatement, ast.UseStatement, ast.ImportStatement,
			ast.ExportStatement, ast.SynthStatement:
			// Resolved before interpretation.

		case ast.UnknownStatement, ast.ErrorStatement:
			// Collected by diagnostics; skipped here.
		}
	}

	if len(spawns) > 0 {
		maxEnd = it.execSpawns(spawns, eng, vars, funcs, baseBPM, baseDuration, maxEnd)
	}

	if maxEnd < cursor {
		maxEnd = cursor
	}
	return maxEnd, cursor
}

// execSpawns runs sibling spawns in parallel. Each child gets a cloned
// engine with an empty buffer plus value copies of both tables, so no
// child observes another's mutations. Children merge in source order.
func (it *Interpreter) execSpawns(
	spawns []ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	baseBPM, baseDuration, maxEnd float32,
) float32 {
	type result struct {
		child  *engine.Engine
		maxEnd float32
	}
	results := make([]result, len(spawns))

	var wg sync.WaitGroup
	for i, stmt := range spawns {
		wg.Add(1)
		go func(i int, stmt ast.Statement) {
			defer wg.Done()
			child := eng.CloneEmpty()
			childMax := it.execSpawnBody(stmt, child, vars.Clone(), funcs.Clone(), baseBPM, baseDuration)
			results[i] = result{child: child, maxEnd: childMax}
		}(i, stmt)
	}
	wg.Wait()

	for _, r := range results {
		if r.child != nil {
			eng.MergeWith(r.child)
		}
		if r.maxEnd > maxEnd {
			maxEnd = r.maxEnd
		}
	}
	return maxEnd
}

// execSpawnBody resolves a spawn target (function, group or pattern) and
// executes it from cursor 0 on the child engine.
func (it *Interpreter) execSpawnBody(
	stmt ast.Statement,
	child *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	baseBPM, baseDuration float32,
) float32 {
	name := stmt.Name

	if fn, ok := funcs.Get(name); ok {
		if len(fn.Params) != len(stmt.Args) {
			logrus.WithFields(logrus.Fields{
				"module":   child.ModuleName,
				"function": name,
			}).Errorf("function expects %d args, got %d", len(fn.Params), len(stmt.Args))
			return 0
		}
		local := store.NewChildTable(vars)
		for i, param := range fn.Params {
			local.Set(param, stmt.Args[i])
		}
		maxEnd, _ := it.ExecuteBlock(child, local, funcs, fn.Body, baseBPM, baseDuration, 0, 0)
		return maxEnd
	}

	if body, ok := it.findGroupBody(name, vars); ok {
		maxEnd, _ := it.ExecuteBlock(child, vars, funcs, body, baseBPM, baseDuration, 0, 0)
		return maxEnd
	}

	if pattern, ok := it.findPattern(name, vars); ok {
		maxEnd, _ := it.execPattern(pattern, child, vars, baseDuration, 0, 0)
		return maxEnd
	}

	logrus.WithFields(logrus.Fields{
		"module": child.ModuleName,
		"line":   stmt.Line,
		"column": stmt.Column,
	}).Errorf("cannot spawn '%s': not a function, group or pattern", name)
	return 0
}

// execCall resolves call targets in order: function, group (caller's
// scope), pattern.
func (it *Interpreter) execCall(
	stmt ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	name := stmt.Name

	if fn, ok := funcs.Get(name); ok {
		if len(fn.Params) != len(stmt.Args) {
			logrus.WithFields(logrus.Fields{
				"module":   eng.ModuleName,
				"function": name,
				"line":     stmt.Line,
			}).Errorf("function expects %d args, got %d", len(fn.Params), len(stmt.Args))
			return maxEnd, cursor
		}
		// Functions get a child scope with parameters bound.
		local := store.NewChildTable(vars)
		for i, param := range fn.Params {
			local.Set(param, it.evalRHS(stmt.Args[i], vars, baseBPM, baseDuration, cursor))
		}
		return it.ExecuteBlock(eng, local, funcs, fn.Body, baseBPM, baseDuration, maxEnd, cursor)
	}

	// Groups and patterns run in the caller's scope.
	if body, ok := it.findGroupBody(name, vars); ok {
		return it.ExecuteBlock(eng, vars, funcs, body, baseBPM, baseDuration, maxEnd, cursor)
	}

	if pattern, ok := it.findPattern(name, vars); ok {
		return it.execPattern(pattern, eng, vars, baseDuration, maxEnd, cursor)
	}

	logrus.WithFields(logrus.Fields{
		"module": eng.ModuleName,
		"line":   stmt.Line,
		"column": stmt.Column,
	}).Errorf("cannot call '%s': not found", name)
	return maxEnd, cursor
}

// findGroupBody resolves a group name to its body block.
func (it *Interpreter) findGroupBody(name string, vars *store.VariableTable) ([]ast.Statement, bool) {
	lookup := func(v ast.Value) ([]ast.Statement, bool) {
		switch v.Kind {
		case ast.MapValue:
			if body, ok := v.MapGet("body"); ok && body.Kind == ast.BlockValue {
				if _, hasID := v.MapGet("identifier"); hasID {
					return body.Block, true
				}
			}
		case ast.StatementValue:
			if v.Stmt != nil && v.Stmt.Kind == ast.GroupStatement {
				if body, ok := v.Stmt.Value.MapGet("body"); ok && body.Kind == ast.BlockValue {
					return body.Block, true
				}
			}
		}
		return nil, false
	}

	if v, ok := vars.Get(name); ok {
		if body, ok := lookup(v); ok {
			return body, true
		}
	}
	if v, ok := it.Global.Variables.Get(name); ok {
		return lookup(v)
	}
	return nil, false
}

// findPattern resolves a pattern name to its statement.
func (it *Interpreter) findPattern(name string, vars *store.VariableTable) (ast.Statement, bool) {
	lookup := func(v ast.Value) (ast.Statement, bool) {
		if v.Kind == ast.StatementValue && v.Stmt != nil && v.Stmt.Kind == ast.PatternStatement {
			return *v.Stmt, true
		}
		return ast.Statement{}, false
	}
	if v, ok := vars.Get(name); ok {
		if stmt, ok := lookup(v); ok {
			return stmt, true
		}
	}
	if v, ok := it.Global.Variables.Get(name); ok {
		return lookup(v)
	}
	return ast.Statement{}, false
}

// execEmit invokes every registered handler for an event synchronously in
// the current cursor scope. The payload binds to the handler's first
// declared argument, or to "payload" when none is declared.
func (it *Interpreter) execEmit(
	stmt ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	handlers := it.Global.EventHandlersFor(stmt.Name)
	for _, handler := range handlers {
		scope := store.NewChildTable(vars)
		if !stmt.Value.IsNull() {
			binding := "payload"
			if len(handler.Params) > 0 {
				binding = handler.Params[0]
			}
			scope.Set(binding, stmt.Value)
		}
		maxEnd, cursor = it.ExecuteBlock(eng, scope, funcs, handler.Body, baseBPM, baseDuration, maxEnd, cursor)
	}
	return maxEnd, cursor
}

// execPrint resolves the raw line as a string-concat expression against
// the variable table and logs the result.
func (it *Interpreter) execPrint(stmt ast.Statement, vars *store.VariableTable, baseBPM, baseDuration, cursor float32) {
	raw, _ := stmt.Value.AsString()
	env := eval.Env{Vars: vars, BPM: baseBPM, Beat: beatPosition(cursor, baseDuration)}
	out := raw
	if s, ok := eval.StringConcat(raw, env); ok {
		out = s
	} else if v, ok := vars.Get(raw); ok {
		if s, ok := v.AsString(); ok {
			out = s
		}
	}
	logrus.WithField("module", "print").Info(out)
}

// evalRHS resolves a runtime let value: raw expression strings evaluate,
// identifiers chase the current scope.
func (it *Interpreter) evalRHS(v ast.Value, vars *store.VariableTable, baseBPM, baseDuration, cursor float32) ast.Value {
	env := eval.Env{Vars: vars, BPM: baseBPM, Beat: beatPosition(cursor, baseDuration)}
	switch v.Kind {
	case ast.ExprValue:
		return eval.Resolve(v.Str, env)
	case ast.IdentifierValue:
		if resolved, ok := vars.Get(v.Str); ok {
			return resolved
		}
	}
	return v
}

func (it *Interpreter) tempoValue(stmt ast.Statement, vars *store.VariableTable) (float32, bool) {
	switch stmt.Value.Kind {
	case ast.NumberValue:
		if stmt.Value.Num > 0 {
			return stmt.Value.Num, true
		}
	case ast.IdentifierValue:
		if v, ok := vars.Get(stmt.Value.Str); ok {
			if n, ok := v.AsFloat(); ok && n > 0 {
				return n, true
			}
		}
	}
	logrus.WithFields(logrus.Fields{
		"line": stmt.Line,
	}).Error("invalid tempo value")
	return 0, false
}

// execSleep converts the sleep value to seconds and advances the cursor:
// bare numbers are milliseconds, "Ns"/"Nms" strings are explicit, beat
// literals follow the tempo.
func execSleep(stmt ast.Statement, baseDuration, maxEnd, cursor float32) (float32, float32) {
	secs, ok := sleepSeconds(stmt.Value, baseDuration)
	if !ok {
		logrus.WithField("line", stmt.Line).Error("invalid sleep value")
		return maxEnd, cursor
	}
	cursor += secs
	if cursor > maxEnd {
		maxEnd = cursor
	}
	return maxEnd, cursor
}

func sleepSeconds(v ast.Value, baseDuration float32) (float32, bool) {
	switch v.Kind {
	case ast.NumberValue:
		return v.Num / 1000, true
	case ast.BeatValue:
		return ast.BeatSeconds(v.Str, baseDuration), true
	case ast.StringValue, ast.IdentifierValue:
		s := v.Str
		switch {
		case len(s) > 2 && s[len(s)-2:] == "ms":
			if n, ok := ast.String(s[:len(s)-2]).AsFloat(); ok {
				return n / 1000, true
			}
		case len(s) > 1 && s[len(s)-1] == 's':
			if n, ok := ast.String(s[:len(s)-1]).AsFloat(); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// execLoop runs the counted and foreach loop forms. Each iteration starts
// at the previous iteration's cursor.
func (it *Interpreter) execLoop(
	stmt ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	body, ok := stmt.Value.MapGet("body")
	if !ok || body.Kind != ast.BlockValue {
		logrus.WithField("line", stmt.Line).Error("loop body must be a block")
		return maxEnd, cursor
	}

	// foreach form binds the loop variable per element.
	if foreachVar, ok := stmt.Value.MapGet("foreach"); ok {
		varName, _ := foreachVar.AsString()
		items := it.foreachItems(stmt, vars)
		for _, item := range items {
			scoped := vars.Clone()
			scoped.Set(varName, item)
			blockMax, blockCursor := it.ExecuteBlock(eng, scoped, funcs, body.Block, baseBPM, baseDuration, maxEnd, cursor)
			cursor = blockCursor
			maxEnd = maxf(maxEnd, blockMax)
		}
		return maxEnd, cursor
	}

	count := 0
	if iter, ok := stmt.Value.MapGet("iterator"); ok {
		switch iter.Kind {
		case ast.NumberValue:
			count = int(iter.Num)
		case ast.IdentifierValue:
			if v, ok := vars.Get(iter.Str); ok {
				if n, ok := v.AsFloat(); ok {
					count = int(n)
				}
			}
		}
	}
	if count < 0 {
		count = 0
	}

	for i := 0; i < count; i++ {
		blockMax, blockCursor := it.ExecuteBlock(eng, vars, funcs, body.Block, baseBPM, baseDuration, maxEnd, cursor)
		cursor = blockCursor
		maxEnd = maxf(maxEnd, blockMax)
	}
	return maxEnd, cursor
}

func (it *Interpreter) foreachItems(stmt ast.Statement, vars *store.VariableTable) []ast.Value {
	arr, ok := stmt.Value.MapGet("array")
	if !ok {
		return nil
	}
	switch arr.Kind {
	case ast.ArrayValue:
		return arr.Items
	case ast.IdentifierValue:
		if v, ok := vars.Get(arr.Str); ok && v.Kind == ast.ArrayValue {
			return v.Items
		}
	}
	return nil
}

// execCondition walks an if/else chain and runs the first branch whose
// condition holds. A branch without a condition (the final else) always
// runs.
func (it *Interpreter) execCondition(
	stmt ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	funcs *store.FunctionTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	current := stmt.Value
	env := eval.Env{Vars: vars, BPM: baseBPM, Beat: beatPosition(cursor, baseDuration)}

	for current.Kind == ast.MapValue {
		run := true
		if cond, ok := current.MapGet("condition"); ok {
			switch cond.Kind {
			case ast.BooleanValue:
				run = cond.Bool
			case ast.StringValue:
				run = eval.Condition(cond.Str, env)
			default:
				run = false
			}
		}

		if run {
			if body, ok := current.MapGet("body"); ok && body.Kind == ast.BlockValue {
				return it.ExecuteBlock(eng, vars, funcs, body.Block, baseBPM, baseDuration, maxEnd, cursor)
			}
			break
		}

		next, ok := current.MapGet("next")
		if !ok {
			break
		}
		current = next
	}
	return maxEnd, cursor
}

func beatPosition(cursor, baseDuration float32) float32 {
	if baseDuration <= 0 {
		return 0
	}
	return cursor / baseDuration
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
