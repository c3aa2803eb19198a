package interp

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/engine"
	"github.com/opd-ai/devalang/pkg/plugin"
	"github.com/opd-ai/devalang/pkg/store"
)

// execArrowCall dispatches `target -> method(args)`: note and chord
// schedule synthesis, the effect methods re-process the target's recent
// notes.
func (it *Interpreter) execArrowCall(
	stmt ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
	updateCursor bool,
) (float32, float32) {
	synth, ok := it.resolveSynthTarget(stmt.Target, vars)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": eng.ModuleName,
			"line":   stmt.Line,
			"column": stmt.Column,
		}).Errorf("synth '%s' not found or malformed", stmt.Target)
		return maxEnd, cursor
	}

	switch stmt.Method {
	case "note":
		return it.execNoteMethod(stmt, synth, eng, vars, baseBPM, baseDuration, maxEnd, cursor, updateCursor)
	case "chord":
		return it.execChordMethod(stmt, synth, eng, vars, baseBPM, baseDuration, maxEnd, cursor, updateCursor)
	case "echo", "reverb", "slide", "arp":
		eng.ApplyEffect(stmt.Method, stmt.Target, stmt.Args)
		return maxEnd, cursor
	default:
		logrus.WithFields(logrus.Fields{
			"module": eng.ModuleName,
			"method": stmt.Method,
		}).Errorf("unknown arrow method on '%s'", stmt.Target)
		return maxEnd, cursor
	}
}

// synthTarget is a resolved synth literal: waveform plus parameter map.
type synthTarget struct {
	waveform string
	params   map[string]ast.Value
}

// resolveSynthTarget looks up an identifier bound to a synth map
// (entity == "synth" with a value map).
func (it *Interpreter) resolveSynthTarget(name string, vars *store.VariableTable) (synthTarget, bool) {
	var v ast.Value
	var ok bool
	if v, ok = vars.Get(name); !ok {
		if v, ok = it.Global.Variables.Get(name); !ok {
			return synthTarget{}, false
		}
	}
	if v.Kind == ast.StatementValue && v.Stmt != nil {
		v = v.Stmt.Value
	}

	entity, ok := v.MapGet("entity")
	if !ok {
		return synthTarget{}, false
	}
	if s, _ := entity.AsString(); s != "synth" {
		return synthTarget{}, false
	}
	inner, ok := v.MapGet("value")
	if !ok || inner.Kind != ast.MapValue {
		return synthTarget{}, false
	}

	target := synthTarget{params: map[string]ast.Value{}}
	if w, ok := inner.MapGet("waveform"); ok {
		target.waveform, _ = w.AsString()
	}
	if p, ok := inner.MapGet("parameters"); ok && p.Kind == ast.MapValue {
		target.params = p.Map
	}
	if target.waveform == "" {
		return synthTarget{}, false
	}
	return target, true
}

// execNoteMethod schedules a single note.
func (it *Interpreter) execNoteMethod(
	stmt ast.Statement,
	synth synthTarget,
	eng *engine.Engine,
	vars *store.VariableTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
	updateCursor bool,
) (float32, float32) {
	noteName, noteParams, ok := noteArgs(stmt.Args)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": eng.ModuleName,
			"line":   stmt.Line,
		}).Errorf("invalid or missing note argument on '%s'", stmt.Target)
		return maxEnd, cursor
	}

	amp := float32(1)
	if v, ok := paramF32(synth.params, "amp"); ok {
		amp = v
	}
	if v, ok := paramF32WithBeat(noteParams, "amp", baseBPM); ok {
		amp = v
	}

	durationMs := baseDuration * 1000
	if v, ok := paramF32WithBeat(noteParams, "duration", baseBPM); ok {
		durationMs = v
	}

	freq := NoteToFreq(noteName)
	startMs := cursor * 1000
	endTime := cursor + durationMs/1000

	automation := it.mergedAutomation(stmt.Target, noteParams, vars)

	// Plugin-backed waveforms render through the WASM runner.
	if strings.HasSuffix(synth.waveform, ".synth") {
		it.renderPluginNote(stmt.Target, synth, eng, vars, freq, amp, startMs, durationMs)
	} else {
		it.scheduleTypedNote(stmt.Target, synth, eng, freq, amp, startMs, durationMs, noteParams, automation)
	}

	maxEnd = maxf(maxEnd, endTime)
	if updateCursor {
		cursor = endTime
	}
	return maxEnd, cursor
}

// scheduleTypedNote honors the synth "type" parameter: arp splits the
// note into steps, pluck shortens the gate and adds a click, pad widens
// the attack/release. Plain synths schedule one note.
func (it *Interpreter) scheduleTypedNote(
	target string,
	synth synthTarget,
	eng *engine.Engine,
	freq, amp, startMs, durationMs float32,
	noteParams map[string]ast.Value,
	automation map[string]ast.Value,
) {
	synthType := ""
	if t, ok := synth.params["type"]; ok {
		synthType, _ = t.AsString()
	}

	switch synthType {
	case "arp":
		rate := float32(4)
		if v, ok := paramF32(synth.params, "rate"); ok && v > 0 {
			rate = v
		}
		stepMs := durationMs / rate
		if stepMs <= 0 {
			stepMs = durationMs
		}
		steps := int(durationMs / stepMs)
		if steps < 1 {
			steps = 1
		}
		spread, _ := paramF32(synth.params, "spread")
		for idx := 0; idx < steps; idx++ {
			stepFreq := freq
			if spread != 0 && steps > 1 {
				semis := spread * float32(idx) / float32(steps-1)
				stepFreq = freq * pow2(semis/12)
			}
			eng.InsertNote(target, synth.waveform, stepFreq, amp,
				startMs+float32(idx)*stepMs, stepMs,
				synth.params, noteParams, automation)
		}
		return

	case "pluck":
		params := copyParams(noteParams)
		if _, ok := paramF32(params, "gate"); !ok {
			params["gate"] = ast.Number(0.4)
		}
		if _, ok := paramF32(params, "pluck_click"); !ok {
			if _, ok := paramF32(synth.params, "pluck_click"); !ok {
				params["pluck_click"] = ast.Number(0.5)
			}
		}
		eng.InsertNote(target, synth.waveform, freq, amp, startMs, durationMs,
			synth.params, params, automation)
		return

	case "pad":
		// Pads swell: stretch attack and release toward the note length.
		params := copyParams(synth.params)
		attack, _ := paramF32(params, "attack")
		release, _ := paramF32(params, "release")
		params["attack"] = ast.Number(maxf(attack, durationMs*0.3))
		params["release"] = ast.Number(maxf(release, durationMs*0.4))
		eng.InsertNote(target, synth.waveform, freq, amp, startMs, durationMs,
			params, noteParams, automation)
		return
	}

	eng.InsertNote(target, synth.waveform, freq, amp, startMs, durationMs,
		synth.params, noteParams, automation)
}

// execChordMethod schedules up to four simultaneous notes, expanding
// shorthand chord names.
func (it *Interpreter) execChordMethod(
	stmt ast.Statement,
	synth synthTarget,
	eng *engine.Engine,
	vars *store.VariableTable,
	baseBPM, baseDuration, maxEnd, cursor float32,
	updateCursor bool,
) (float32, float32) {
	var names []string
	var noteParams map[string]ast.Value
	for _, arg := range stmt.Args {
		switch arg.Kind {
		case ast.IdentifierValue, ast.StringValue:
			names = append(names, arg.Str)
		case ast.MapValue:
			noteParams = arg.Map
		}
	}
	names = ExpandChordShorthands(names)
	if len(names) > 4 {
		names = names[:4]
	}
	if len(names) == 0 {
		logrus.WithFields(logrus.Fields{
			"module": eng.ModuleName,
			"line":   stmt.Line,
		}).Errorf("chord on '%s' has no notes", stmt.Target)
		return maxEnd, cursor
	}

	amp := float32(1)
	if v, ok := paramF32(synth.params, "amp"); ok {
		amp = v
	}
	durationMs := baseDuration * 1000
	if v, ok := paramF32WithBeat(noteParams, "duration", baseBPM); ok {
		durationMs = v
	}

	automation := it.mergedAutomation(stmt.Target, noteParams, vars)
	startMs := cursor * 1000

	for _, name := range names {
		freq := NoteToFreq(name)
		if strings.HasSuffix(synth.waveform, ".synth") {
			it.renderPluginNote(stmt.Target, synth, eng, vars, freq, amp, startMs, durationMs)
		} else {
			it.scheduleTypedNote(stmt.Target, synth, eng, freq, amp, startMs, durationMs, noteParams, automation)
		}
	}

	endTime := cursor + durationMs/1000
	maxEnd = maxf(maxEnd, endTime)
	if updateCursor {
		cursor = endTime
	}
	return maxEnd, cursor
}

// renderPluginNote renders a note through the plugin's WASM render_note
// export and mixes the produced frames into the buffer.
func (it *Interpreter) renderPluginNote(
	target string,
	synth synthTarget,
	eng *engine.Engine,
	vars *store.VariableTable,
	freq, amp, startMs, durationMs float32,
) {
	alias := strings.TrimSuffix(synth.waveform, ".synth")
	uriVal, ok := vars.Get(alias)
	if !ok {
		logrus.WithField("alias", alias).Warn("plugin alias not found in variable table")
		return
	}
	uri, _ := uriVal.AsString()
	id, ok := strings.CutPrefix(uri, "devalang://plugin/")
	if !ok {
		logrus.WithFields(logrus.Fields{"alias": alias, "uri": uri}).Warn("invalid plugin URI in alias")
		return
	}
	author, name, _ := strings.Cut(id, "/")
	entry, ok := it.Global.Plugin(author + ":" + name)
	if !ok {
		logrus.WithField("plugin", author+":"+name).Warn("plugin bytes not registered")
		return
	}

	totalFrames := int(durationMs / 1000 * float32(eng.SampleRate))
	out := make([]float32, totalFrames*eng.Channels)

	paramsNum := map[string]float32{}
	paramsStr := map[string]string{}
	for k, v := range synth.params {
		switch v.Kind {
		case ast.NumberValue:
			paramsNum[k] = v.Num
		case ast.StringValue, ast.IdentifierValue:
			paramsStr[k] = v.Str
		}
	}

	runner := plugin.NewRunner()
	err := runner.RenderNote(entry.Wasm, freq, amp,
		int32(durationMs), int32(eng.SampleRate), int32(eng.Channels),
		paramsNum, paramsStr, out)
	if err != nil {
		logrus.WithField("plugin", author+":"+name).WithError(err).Warn("plugin render failed")
		return
	}

	eng.MixFrames(target, out, startMs)
}

// mergedAutomation merges per-note automation over the per-synth map
// registered under <target>__automation; note values win key by key.
func (it *Interpreter) mergedAutomation(target string, noteParams map[string]ast.Value, vars *store.VariableTable) map[string]ast.Value {
	var synthAuto map[string]ast.Value
	if v, ok := vars.Get(target + "__automation"); ok {
		if params, ok := v.MapGet("params"); ok && params.Kind == ast.MapValue {
			synthAuto = params.Map
		}
	}

	var noteAuto map[string]ast.Value
	if noteParams != nil {
		if v, ok := noteParams["automate"]; ok && v.Kind == ast.MapValue {
			noteAuto = v.Map
		}
	}

	switch {
	case synthAuto == nil:
		return noteAuto
	case noteAuto == nil:
		return synthAuto
	default:
		merged := make(map[string]ast.Value, len(synthAuto)+len(noteAuto))
		for k, v := range synthAuto {
			merged[k] = v
		}
		for k, v := range noteAuto {
			merged[k] = v
		}
		return merged
	}
}

// noteArgs extracts the note name and optional parameter map from arrow
// call arguments.
func noteArgs(args []ast.Value) (string, map[string]ast.Value, bool) {
	var name string
	var params map[string]ast.Value
	for _, arg := range args {
		switch arg.Kind {
		case ast.IdentifierValue, ast.StringValue:
			if name == "" {
				name = arg.Str
			}
		case ast.MapValue:
			params = arg.Map
		}
	}
	if name == "" {
		return "", nil, false
	}
	return name, params, true
}

func paramF32(params map[string]ast.Value, key string) (float32, bool) {
	if params == nil {
		return 0, false
	}
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}

// paramF32WithBeat also accepts beat literal values, converting them to
// milliseconds at the current tempo.
func paramF32WithBeat(params map[string]ast.Value, key string, baseBPM float32) (float32, bool) {
	if params == nil {
		return 0, false
	}
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	if v.Kind == ast.BeatValue {
		num, den := ast.BeatFraction(v.Str)
		return (num / den) * (60 / baseBPM) * 1000, true
	}
	return v.AsFloat()
}

func copyParams(in map[string]ast.Value) map[string]ast.Value {
	out := make(map[string]ast.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pow2(x float32) float32 {
	// 2^x via the identity exp2; small helper to keep call sites terse.
	return float32(exp2(float64(x)))
}
