package interp

import (
	"math"
	"testing"

	"github.com/opd-ai/devalang/pkg/engine"
	"github.com/opd-ai/devalang/pkg/loader"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/resolver"
	"github.com/opd-ai/devalang/pkg/rng"
	"github.com/opd-ai/devalang/pkg/store"
)

// renderSource compiles and renders in-memory source with a fresh store
// and registry; missing banks fall back to synthetic drums.
func renderSource(t *testing.T, src string) (*engine.Engine, float32, float32) {
	t.Helper()
	rng.SetSessionSeed(0.5)

	reg := registry.New()
	g := store.NewGlobalStore()
	l := loader.New("test.deva", "out", reg)
	if err := l.LoadRawSource("test.deva", src, g); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	resolver.Resolve(g)

	module, ok := g.Module("test.deva")
	if !ok {
		t.Fatal("entry module missing")
	}

	eng := engine.New("test.deva", reg)
	it := New(g)
	maxEnd, cursor := it.Run(module.Statements, eng)
	return eng, maxEnd, cursor
}

// firstNonSilentSecond finds the time of the first non-zero sample.
func firstNonSilentSecond(e *engine.Engine) float32 {
	for i, s := range e.Buffer {
		if s != 0 {
			return float32(i/e.Channels) / float32(e.SampleRate)
		}
	}
	return -1
}

func TestScenarioSimpleTrigger(t *testing.T) {
	src := "bpm 120\nbank 808\n.808.kick 1/4\n"
	eng, maxEnd, cursor := renderSource(t, src)

	if cursor != 0.5 {
		t.Errorf("cursor = %v, want 0.5", cursor)
	}
	if maxEnd < 0.5 {
		t.Errorf("maxEnd = %v, want >= 0.5", maxEnd)
	}
	if len(eng.MidiEvents) != 0 {
		t.Errorf("midi events = %d, want 0", len(eng.MidiEvents))
	}
	if start := firstNonSilentSecond(eng); start < 0 || start > 0.01 {
		t.Errorf("first sample at %v, want ~0", start)
	}
}

func TestScenarioTwoSerialTriggers(t *testing.T) {
	src := "bpm 120\nbank 808\n.808.kick 1/4\n.808.snare 1/4\n"
	eng, _, cursor := renderSource(t, src)

	if cursor != 1.0 {
		t.Errorf("cursor = %v, want 1.0", cursor)
	}
	// Signal must exist both at the start and around the second beat.
	if eng.IsSilent() {
		t.Fatal("buffer silent")
	}
	secondStart := int(0.5*44100) * 2
	var energy int64
	for i := secondStart; i < secondStart+4410*2 && i < len(eng.Buffer); i++ {
		if eng.Buffer[i] != 0 {
			energy++
		}
	}
	if energy == 0 {
		t.Error("no signal at t=0.5 where the snare should play")
	}
}

func TestScenarioParallelSpawn(t *testing.T) {
	src := `group A:
  .808.kick 1/4
  .808.kick 1/4
group B:
  .808.snare 1/4
spawn A()
spawn B()
`
	eng, maxEnd, cursor := renderSource(t, "bank 808\n"+src)

	if cursor != 0 {
		t.Errorf("parent cursor = %v, want 0 after spawns", cursor)
	}
	if math.Abs(float64(maxEnd)-1.0) > 1e-5 {
		t.Errorf("maxEnd = %v, want 1.0", maxEnd)
	}
	if eng.IsSilent() {
		t.Error("spawned buffers must be mixed into the parent")
	}
}

func TestSpawnEqualsSerialCloneMix(t *testing.T) {
	// Observable output of sibling spawns must equal serially running
	// each on a clone and mixing.
	spawnSrc := "bank 808\ngroup A:\n  .808.kick 1/4\ngroup B:\n  .808.snare 1/4\nspawn A()\nspawn B()\n"
	a, _, _ := renderSource(t, spawnSrc)

	kickOnly, _, _ := renderSource(t, "bank 808\ngroup A:\n  .808.kick 1/4\ncall A()\n")
	snareOnly, _, _ := renderSource(t, "bank 808\ngroup B:\n  .808.snare 1/4\ncall B()\n")
	kickOnly.MergeWith(snareOnly)

	if len(a.Buffer) != len(kickOnly.Buffer) {
		t.Fatalf("buffer lengths differ: %d vs %d", len(a.Buffer), len(kickOnly.Buffer))
	}
	for i := range a.Buffer {
		if a.Buffer[i] != kickOnly.Buffer[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, a.Buffer[i], kickOnly.Buffer[i])
		}
	}
}

func TestScenarioSynthNote(t *testing.T) {
	src := "bpm 120\nlet s = synth sine { attack: 10, decay: 50, sustain: 80, release: 100 }\ns -> note(A4, { duration: 500, velocity: 0.8 })\n"
	eng, _, _ := renderSource(t, src)

	if len(eng.MidiEvents) != 1 {
		t.Fatalf("midi events = %d, want 1", len(eng.MidiEvents))
	}
	ev := eng.MidiEvents[0]
	if ev.Key != 69 || ev.Vel != 102 || ev.StartMs != 0 || ev.DurationMs != 500 {
		t.Errorf("event = %+v, want key 69 vel 102 0/500ms", ev)
	}

	wantFrames := int(0.5 * 44100)
	if len(eng.Buffer) != wantFrames*2 {
		t.Errorf("buffer = %d samples, want %d stereo frames", len(eng.Buffer), wantFrames)
	}
	if eng.IsSilent() {
		t.Error("sine note must produce signal")
	}
}

func TestScenarioLoopForeach(t *testing.T) {
	src := "bpm 120\nbank 808\nloop foreach n in [1/4, 1/8, 1/8]:\n  .808.kick n\n"
	_, maxEnd, cursor := renderSource(t, src)

	if math.Abs(float64(cursor)-1.0) > 1e-5 {
		t.Errorf("cursor = %v, want 1.0", cursor)
	}
	if maxEnd < 1.0 {
		t.Errorf("maxEnd = %v, want >= 1.0", maxEnd)
	}
}

func TestScenarioConditional(t *testing.T) {
	src := "bank 808\nlet x = 3\nif x > 2:\n  .808.kick 1/4\nelse:\n  .808.snare 1/4\n"
	eng, _, cursor := renderSource(t, src)

	if cursor != 0.5 {
		t.Errorf("cursor = %v, want 0.5 (one trigger)", cursor)
	}
	if eng.IsSilent() {
		t.Error("kick branch must render")
	}
}

func TestConditionalElseBranch(t *testing.T) {
	src := "bank 808\nlet x = 1\nif x > 2:\n  .808.kick 1/4\n  .808.kick 1/4\nelse:\n  .808.snare 1/4\n"
	_, _, cursor := renderSource(t, src)
	if cursor != 0.5 {
		t.Errorf("cursor = %v, want 0.5 (else branch has one trigger)", cursor)
	}
}

func TestTempoScaling(t *testing.T) {
	// Doubling the bpm halves all event times and durations.
	slow, slowMax, slowCursor := renderSource(t, "bpm 60\nbank 808\n.808.kick 1/4\n.808.kick 1/4\n")
	fast, fastMax, fastCursor := renderSource(t, "bpm 120\nbank 808\n.808.kick 1/4\n.808.kick 1/4\n")

	if math.Abs(float64(slowCursor)-2*float64(fastCursor)) > 1e-5 {
		t.Errorf("cursor: slow %v, fast %v, want 2x", slowCursor, fastCursor)
	}
	if slowMax <= fastMax {
		t.Errorf("maxEnd: slow %v must exceed fast %v", slowMax, fastMax)
	}
	if slow.IsSilent() || fast.IsSilent() {
		t.Error("both renders must produce signal")
	}
}

func TestTempoAffectsOnlySubsequentEvents(t *testing.T) {
	src := "bpm 120\nbank 808\n.808.kick 1/4\nbpm 60\n.808.kick 1/4\n"
	_, _, cursor := renderSource(t, src)
	// 0.5s at 120 plus 1.0s at 60.
	if math.Abs(float64(cursor)-1.5) > 1e-5 {
		t.Errorf("cursor = %v, want 1.5", cursor)
	}
}

func TestSleepForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float32
	}{
		{"milliseconds", "sleep 500\n", 0.5},
		{"seconds string", "sleep \"2s\"\n", 2},
		{"ms string", "sleep \"250ms\"\n", 0.25},
		{"beat", "bpm 120\nsleep 1/4\n", 0.5},
		{"zero", "sleep 0\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, maxEnd, cursor := renderSource(t, tt.src)
			if math.Abs(float64(cursor)-float64(tt.want)) > 1e-5 {
				t.Errorf("cursor = %v, want %v", cursor, tt.want)
			}
			if maxEnd < cursor {
				t.Errorf("maxEnd %v < cursor %v", maxEnd, cursor)
			}
		})
	}
}

func TestLoopZeroIterations(t *testing.T) {
	_, _, cursor := renderSource(t, "bank 808\nloop 0:\n  .808.kick 1/4\n")
	if cursor != 0 {
		t.Errorf("cursor = %v, want 0 after zero-iteration loop", cursor)
	}
}

func TestLoopCounted(t *testing.T) {
	_, _, cursor := renderSource(t, "bpm 120\nbank 808\nloop 4:\n  .808.kick 1/4\n")
	if math.Abs(float64(cursor)-2.0) > 1e-5 {
		t.Errorf("cursor = %v, want 2.0", cursor)
	}
}

func TestCallFunctionWithArgs(t *testing.T) {
	src := "bpm 120\nbank 808\nfn hit(d):\n  .808.kick d\ncall hit(1/4)\ncall hit(1/8)\n"
	_, _, cursor := renderSource(t, src)
	if math.Abs(float64(cursor)-0.75) > 1e-5 {
		t.Errorf("cursor = %v, want 0.75", cursor)
	}
}

func TestGroupRunsInCallerScope(t *testing.T) {
	// The group body sees variables defined before the call.
	src := "bpm 120\nbank 808\nlet d = 1/4\ngroup g:\n  .808.kick d\ncall g()\n"
	_, _, cursor := renderSource(t, src)
	if cursor != 0.5 {
		t.Errorf("cursor = %v, want 0.5", cursor)
	}
}

func TestUnknownTriggerSkipped(t *testing.T) {
	eng, _, cursor := renderSource(t, "bpm 120\n.nosuchthing 1/4\n")
	if cursor != 0 {
		t.Errorf("cursor = %v, want 0 for unknown trigger", cursor)
	}
	if !eng.IsSilent() {
		t.Error("unknown trigger must not render")
	}
}

func TestEmptyPattern(t *testing.T) {
	_, maxEnd, cursor := renderSource(t, "bank 808\npattern p with 808.kick = \"\"\ncall p()\n")
	if cursor != 0 || maxEnd != 0 {
		t.Errorf("cursor/maxEnd = %v/%v, want 0/0 for empty pattern", cursor, maxEnd)
	}
}

func TestPatternSchedulesSteps(t *testing.T) {
	src := "bpm 120\nbank 808\npattern p with 808.kick = \"x---x---\"\ncall p()\n"
	eng, maxEnd, cursor := renderSource(t, src)

	if cursor != 0 {
		t.Errorf("cursor = %v, pattern call must not advance it", cursor)
	}
	if eng.IsSilent() {
		t.Fatal("pattern must render hits")
	}
	// Two hits: at 0 and at step 4 of 8 over a 2s bar = 1.0s.
	secondStart := int(1.0*44100) * 2
	var hit bool
	for i := secondStart; i < secondStart+4410*2 && i < len(eng.Buffer); i++ {
		if eng.Buffer[i] != 0 {
			hit = true
			break
		}
	}
	if !hit {
		t.Error("no signal at t=1.0 where the second hit should land")
	}
	if maxEnd <= 1.0 {
		t.Errorf("maxEnd = %v, want > 1.0", maxEnd)
	}
}

func TestPatternHumanizeDeterministic(t *testing.T) {
	src := "bpm 120\nbank 808\npattern p with 808.kick = { pattern: \"x-x-x-x-\", humanize: 0.2 }\ncall p()\n"
	a, _, _ := renderSource(t, src)
	b, _, _ := renderSource(t, src)

	if len(a.Buffer) != len(b.Buffer) {
		t.Fatalf("buffer lengths differ: %d vs %d", len(a.Buffer), len(b.Buffer))
	}
	for i := range a.Buffer {
		if a.Buffer[i] != b.Buffer[i] {
			t.Fatalf("render not deterministic at sample %d", i)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	src := "bpm 120\nbank 808\nlet s = synth saw { attack: 5, release: 20 }\n.808.kick 1/4\ns -> note(C4, { duration: 250 })\n"
	a, aMax, aCur := renderSource(t, src)
	b, bMax, bCur := renderSource(t, src)

	if aMax != bMax || aCur != bCur {
		t.Fatalf("timing differs: (%v,%v) vs (%v,%v)", aMax, aCur, bMax, bCur)
	}
	if len(a.Buffer) != len(b.Buffer) {
		t.Fatalf("buffer lengths differ")
	}
	for i := range a.Buffer {
		if a.Buffer[i] != b.Buffer[i] {
			t.Fatalf("render not byte-identical at sample %d", i)
		}
	}
}

func TestChordSchedulesMidiPerNote(t *testing.T) {
	src := "bpm 120\nlet s = synth sine { attack: 5 }\ns -> chord(C4, E4, G4, { duration: 300 })\n"
	eng, _, _ := renderSource(t, src)
	if len(eng.MidiEvents) != 3 {
		t.Fatalf("midi events = %d, want 3", len(eng.MidiEvents))
	}
	wantKeys := map[uint8]bool{60: true, 64: true, 67: true}
	for _, ev := range eng.MidiEvents {
		if !wantKeys[ev.Key] {
			t.Errorf("unexpected key %d", ev.Key)
		}
		if ev.StartMs != 0 {
			t.Errorf("chord notes must start together, got %d", ev.StartMs)
		}
	}
}

func TestChordShorthand(t *testing.T) {
	src := "bpm 120\nlet s = synth sine { attack: 5 }\ns -> chord(Cmaj, { duration: 300 })\n"
	eng, _, _ := renderSource(t, src)
	if len(eng.MidiEvents) != 3 {
		t.Fatalf("midi events = %d, want triad", len(eng.MidiEvents))
	}
}

func TestMaxEndNeverBelowCursor(t *testing.T) {
	sources := []string{
		"sleep 100\n",
		"bpm 120\nbank 808\n.808.kick 1/4\n",
		"bank 808\nloop 3:\n  .808.kick 1/8\n",
		"bank 808\ngroup g:\n  .808.kick 1/4\nspawn g()\n",
	}
	for _, src := range sources {
		_, maxEnd, cursor := renderSource(t, src)
		if maxEnd < cursor || cursor < 0 {
			t.Errorf("src %q: maxEnd %v < cursor %v", src, maxEnd, cursor)
		}
	}
}

func TestEmitRunsHandlers(t *testing.T) {
	src := "bpm 120\nbank 808\non hit:\n  .808.kick 1/4\nemit hit\n"
	eng, _, cursor := renderSource(t, src)
	if cursor != 0.5 {
		t.Errorf("cursor = %v, want 0.5 (handler runs in cursor scope)", cursor)
	}
	if eng.IsSilent() {
		t.Error("handler trigger must render")
	}
}

func TestAutomationMergesIntoNotes(t *testing.T) {
	src := `bpm 120
let lead = synth sine { attack: 5 }
automate lead:
  param volume { 0: 0, 1: 1 }
lead -> note(A4, { duration: 200 })
`
	eng, _, _ := renderSource(t, src)
	if eng.IsSilent() {
		t.Fatal("automated note must render")
	}
	// The rising volume envelope makes the start quieter than the end.
	frames := len(eng.Buffer) / 2
	quarter := frames / 4
	var early, late int64
	for i := 0; i < quarter; i++ {
		early += abs64(eng.Buffer[i*2])
	}
	for i := 2 * quarter; i < 3*quarter; i++ {
		late += abs64(eng.Buffer[i*2])
	}
	if early >= late {
		t.Errorf("volume automation: early energy %d not below late %d", early, late)
	}
}

func abs64(v int16) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}
