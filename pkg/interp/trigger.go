package interp

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/engine"
	"github.com/opd-ai/devalang/pkg/store"
)

// execTrigger schedules one sample event. The cursor advances by the beat
// duration; the max-end marker tracks the real play length (the whole
// sample under one_shot).
func (it *Interpreter) execTrigger(
	stmt ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	entity := stmt.Entity

	ref, ok := it.resolveTriggerRef(entity, vars)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": eng.ModuleName,
			"line":   stmt.Line,
			"column": stmt.Column,
		}).Errorf("unknown trigger: %s", entity)
		return maxEnd, cursor
	}

	durationSecs, ok := triggerDuration(stmt.Duration, vars, baseDuration)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": eng.ModuleName,
			"line":   stmt.Line,
		}).Errorf("invalid duration for trigger '%s'", entity)
		return maxEnd, cursor
	}

	effects := triggerEffects(stmt.Value)
	oneShot := false
	if effects != nil {
		if v, ok := effects["one_shot"]; ok {
			oneShot, _ = v.AsBool()
		}
	}

	sampleLength := eng.SampleSeconds(ref, vars)
	playLength := durationSecs
	if oneShot {
		playLength = sampleLength
	} else if sampleLength > 0 && sampleLength < playLength {
		playLength = sampleLength
	}

	eng.InsertSample(ref, cursor, playLength, effects, vars)

	newCursor := cursor + durationSecs
	newMax := maxf(maxEnd, cursor+playLength)
	newMax = maxf(newMax, newCursor)
	return newMax, newCursor
}

// resolveTriggerRef resolves an entity through the variable chain (local
// table first, then parents, then export tables via the global store) to
// a playable reference. An unresolved name that is neither a URI nor a
// path is reported as an unknown trigger.
func (it *Interpreter) resolveTriggerRef(entity string, vars *store.VariableTable) (string, bool) {
	candidates := []*store.VariableTable{vars, it.Global.Variables}
	for _, table := range candidates {
		if table == nil {
			continue
		}
		if v, ok := table.Get(entity); ok {
			if ref, ok := refFromValue(v, table, 0); ok {
				return ref, true
			}
		}
	}
	if v, ok := it.Global.LookupExport(entity); ok {
		if ref, ok := refFromValue(v, vars, 0); ok {
			return ref, true
		}
	}

	// A bare string still plays when it is a URI or looks like a file path.
	if strings.HasPrefix(entity, "devalang://") || looksLikePath(entity) {
		return entity, true
	}
	return "", false
}

func refFromValue(v ast.Value, table *store.VariableTable, depth int) (string, bool) {
	switch v.Kind {
	case ast.StringValue, ast.SampleValue:
		return v.Str, true
	case ast.IdentifierValue:
		if inner, ok := table.Get(v.Str); ok && depth < 8 {
			return refFromValue(inner, table, depth+1)
		}
		return v.Str, looksLikePath(v.Str) || strings.HasPrefix(v.Str, "devalang://")
	case ast.MapValue:
		if entity, ok := v.MapGet("entity"); ok {
			if s, ok := entity.AsString(); ok {
				return s, true
			}
		}
	case ast.StatementValue:
		if v.Stmt != nil && v.Stmt.Kind == ast.TriggerStatement {
			return v.Stmt.Entity, true
		}
	}
	return "", false
}

func looksLikePath(s string) bool {
	return strings.Contains(s, "/") ||
		strings.HasSuffix(s, ".wav") ||
		strings.HasSuffix(s, ".mp3") ||
		strings.HasSuffix(s, ".ogg") ||
		strings.HasSuffix(s, ".flac")
}

// triggerDuration converts a parsed duration to seconds: numbers are
// literal seconds, beat fractions follow the tempo, identifiers chase the
// variable table and auto is one beat.
func triggerDuration(d *ast.Duration, vars *store.VariableTable, baseDuration float32) (float32, bool) {
	if d == nil {
		return baseDuration, true
	}
	switch d.Kind {
	case ast.DurationNumber:
		return d.Num, true
	case ast.DurationBeat:
		return ast.BeatSeconds(d.Name, baseDuration), true
	case ast.DurationAuto:
		return baseDuration, true
	case ast.DurationIdentifier:
		if v, ok := vars.Get(d.Name); ok {
			switch v.Kind {
			case ast.NumberValue:
				return v.Num, true
			case ast.BeatValue:
				return ast.BeatSeconds(v.Str, baseDuration), true
			case ast.IdentifierValue:
				if v.Str == "auto" {
					return baseDuration, true
				}
			}
		}
		return 0, false
	}
	return baseDuration, true
}

// triggerEffects extracts the effect map of a trigger: a nested "effects"
// key when present, otherwise the whole map.
func triggerEffects(v ast.Value) map[string]ast.Value {
	if v.Kind != ast.MapValue || len(v.Map) == 0 {
		return nil
	}
	if nested, ok := v.MapGet("effects"); ok && nested.Kind == ast.MapValue {
		merged := make(map[string]ast.Value, len(v.Map)+len(nested.Map))
		for k, val := range v.Map {
			if k != "effects" {
				merged[k] = val
			}
		}
		for k, val := range nested.Map {
			merged[k] = val
		}
		return merged
	}
	return v.Map
}
