package engine

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/store"
)

func newTestEngine() *Engine {
	return New("test.deva", registry.New())
}

func TestSaturatingAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b int16
		want int16
	}{
		{"plain", 100, 200, 300},
		{"positive clip", math.MaxInt16, 1, math.MaxInt16},
		{"negative clip", math.MinInt16, -1, math.MinInt16},
		{"cancel", 5000, -5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := saturatingAdd(tt.a, tt.b); got != tt.want {
				t.Errorf("saturatingAdd(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestPanGains(t *testing.T) {
	tests := []struct {
		name      string
		pan       float32
		wantLeft  float32
		wantRight float32
	}{
		{"center", 0, 1, 1},
		{"hard left", -1, 1, 0},
		{"hard right", 1, 0, 1},
		{"half right", 0.5, 0.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, right := panGains(tt.pan)
			if left != tt.wantLeft || right != tt.wantRight {
				t.Errorf("panGains(%v) = (%v, %v), want (%v, %v)",
					tt.pan, left, right, tt.wantLeft, tt.wantRight)
			}
		})
	}
}

func TestMergeWithSilence(t *testing.T) {
	t.Run("mix with silent other is identity", func(t *testing.T) {
		a := newTestEngine()
		a.Buffer = []int16{1, 2, 3, 4}
		b := newTestEngine()
		b.Buffer = make([]int16, 8)

		a.MergeWith(b)
		for i, want := range []int16{1, 2, 3, 4, 0, 0, 0, 0} {
			if a.Buffer[i] != want {
				t.Errorf("buffer[%d] = %d, want %d", i, a.Buffer[i], want)
			}
		}
	})

	t.Run("silent receiver adopts other", func(t *testing.T) {
		a := newTestEngine()
		a.Buffer = make([]int16, 2)
		b := newTestEngine()
		b.Buffer = []int16{7, 8, 9, 10}

		a.MergeWith(b)
		for i, want := range []int16{7, 8, 9, 10} {
			if a.Buffer[i] != want {
				t.Errorf("buffer[%d] = %d, want %d", i, a.Buffer[i], want)
			}
		}
	})

	t.Run("both active mixes saturating", func(t *testing.T) {
		a := newTestEngine()
		a.Buffer = []int16{math.MaxInt16, 10}
		b := newTestEngine()
		b.Buffer = []int16{100, 10, 5, 5}

		a.MergeWith(b)
		if a.Buffer[0] != math.MaxInt16 {
			t.Errorf("buffer[0] = %d, want saturated max", a.Buffer[0])
		}
		if a.Buffer[1] != 20 {
			t.Errorf("buffer[1] = %d, want 20", a.Buffer[1])
		}
		if len(a.Buffer) != 4 {
			t.Errorf("len = %d, want 4", len(a.Buffer))
		}
	})

	t.Run("midi events adopted", func(t *testing.T) {
		a := newTestEngine()
		b := newTestEngine()
		b.MidiEvents = append(b.MidiEvents, MidiNoteEvent{Key: 60})
		a.MergeWith(b)
		if len(a.MidiEvents) != 1 || a.MidiEvents[0].Key != 60 {
			t.Errorf("midi events = %+v, want one key-60 event", a.MidiEvents)
		}
	})
}

func TestInsertNoteBasics(t *testing.T) {
	e := newTestEngine()
	synthParams := map[string]ast.Value{
		"attack":  ast.Number(10),
		"decay":   ast.Number(50),
		"sustain": ast.Number(80),
		"release": ast.Number(100),
	}
	noteParams := map[string]ast.Value{
		"velocity": ast.Number(0.8),
	}

	e.InsertNote("s", "sine", 440, 1, 0, 500, synthParams, noteParams, nil)

	if len(e.MidiEvents) != 1 {
		t.Fatalf("midi events = %d, want 1", len(e.MidiEvents))
	}
	ev := e.MidiEvents[0]
	if ev.Key != 69 {
		t.Errorf("key = %d, want 69 (A4)", ev.Key)
	}
	if ev.Vel != 102 {
		t.Errorf("vel = %d, want 102", ev.Vel)
	}
	if ev.StartMs != 0 || ev.DurationMs != 500 {
		t.Errorf("timing = %d/%d ms, want 0/500", ev.StartMs, ev.DurationMs)
	}

	// ~500ms of stereo at 44100: 22050 frames.
	wantSamples := int(0.5*44100) * 2
	if len(e.Buffer) != wantSamples {
		t.Errorf("buffer length = %d, want %d", len(e.Buffer), wantSamples)
	}
	if e.IsSilent() {
		t.Error("buffer must contain the rendered sine")
	}
	if e.NoteCount != 1 {
		t.Errorf("note count = %d, want 1", e.NoteCount)
	}
	if len(e.LastNotes["s"]) != 1 {
		t.Errorf("last notes for s = %d spans, want 1", len(e.LastNotes["s"]))
	}
}

func TestInsertNotePanEndpoints(t *testing.T) {
	tests := []struct {
		name        string
		pan         float32
		silentRight bool
		silentLeft  bool
	}{
		{"hard left silences right", -1, true, false},
		{"hard right silences left", 1, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			e.InsertNote("s", "sine", 440, 1, 0, 100,
				map[string]ast.Value{"sustain": ast.Number(1)},
				map[string]ast.Value{"pan": ast.Number(tt.pan)}, nil)

			var leftEnergy, rightEnergy int64
			for i := 0; i+1 < len(e.Buffer); i += 2 {
				leftEnergy += abs64(e.Buffer[i])
				rightEnergy += abs64(e.Buffer[i+1])
			}
			if tt.silentRight && rightEnergy != 0 {
				t.Errorf("right energy = %d, want 0", rightEnergy)
			}
			if tt.silentLeft && leftEnergy != 0 {
				t.Errorf("left energy = %d, want 0", leftEnergy)
			}
			if tt.silentRight && leftEnergy == 0 {
				t.Error("left channel must carry signal")
			}
			if tt.silentLeft && rightEnergy == 0 {
				t.Error("right channel must carry signal")
			}
		})
	}
}

func TestInsertNoteCenterPanEqualChannels(t *testing.T) {
	e := newTestEngine()
	e.InsertNote("s", "sine", 440, 1, 0, 100,
		map[string]ast.Value{"sustain": ast.Number(1)}, nil, nil)
	for i := 0; i+1 < len(e.Buffer); i += 2 {
		if e.Buffer[i] != e.Buffer[i+1] {
			t.Fatalf("frame %d: L=%d R=%d, want equal at center pan", i/2, e.Buffer[i], e.Buffer[i+1])
		}
	}
}

func TestInsertNoteSustainPercentage(t *testing.T) {
	// sustain values above 1 read as percentages; both notes must render
	// identically.
	a := newTestEngine()
	a.InsertNote("s", "sine", 220, 1, 0, 200,
		map[string]ast.Value{"sustain": ast.Number(80)}, nil, nil)

	b := newTestEngine()
	b.InsertNote("s", "sine", 220, 1, 0, 200,
		map[string]ast.Value{"sustain": ast.Number(0.8)}, nil, nil)

	if len(a.Buffer) != len(b.Buffer) {
		t.Fatalf("lengths differ: %d vs %d", len(a.Buffer), len(b.Buffer))
	}
	for i := range a.Buffer {
		if a.Buffer[i] != b.Buffer[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, a.Buffer[i], b.Buffer[i])
		}
	}
}

func TestWaveformRanges(t *testing.T) {
	waveforms := []string{"sine", "square", "saw", "triangle"}
	for _, wf := range waveforms {
		t.Run(wf, func(t *testing.T) {
			for i := 0; i <= 400; i++ {
				cycles := float64(i) / 100 // four full cycles
				v := waveformAt(wf, cycles)
				if v < -1 || v > 1 {
					t.Fatalf("%s(%v) = %v, out of [-1,1]", wf, cycles, v)
				}
			}
		})
	}
}

func TestTriangleShape(t *testing.T) {
	tests := []struct {
		cycles float64
		want   float32
	}{
		{0, 1},
		{0.25, 0},
		{0.5, -1},
		{0.75, 0},
		{1, 1},
	}
	for _, tt := range tests {
		got := waveformAt("triangle", tt.cycles)
		if math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("triangle(%v) = %v, want %v", tt.cycles, got, tt.want)
		}
	}
}

func TestInsertNoteUnisonVoices(t *testing.T) {
	e := newTestEngine()
	e.InsertNote("s", "saw", 220, 1, 0, 100,
		map[string]ast.Value{
			"sustain":       ast.Number(1),
			"voices":        ast.Number(3),
			"unison_detune": ast.Number(15),
		}, nil, nil)
	if e.IsSilent() {
		t.Error("unison render must produce signal")
	}
}

func TestInsertSampleEffects(t *testing.T) {
	// A synthetic kick via the registry exercises the whole effect chain.
	e := newTestEngine()
	vars := store.NewVariableTable()
	uri := "devalang://bank/test.808/kick"

	effects := map[string]ast.Value{
		"gain":      ast.Number(0.5),
		"pan":       ast.Number(1),
		"drive":     ast.Number(6),
		"delay":     ast.Number(0.05),
		"reverb":    ast.Number(0.3),
		"room_size": ast.Number(0.8),
		"fadeIn":    ast.Number(0.01),
		"fadeOut":   ast.Number(0.01),
	}
	e.InsertSample(uri, 0, 0.5, effects, vars)

	if e.IsSilent() {
		t.Fatal("sample with effects must produce signal")
	}
	// pan=1 silences the left channel.
	for i := 0; i+1 < len(e.Buffer); i += 2 {
		if e.Buffer[i] != 0 {
			t.Fatalf("left sample %d = %d, want 0 at pan=1", i, e.Buffer[i])
		}
	}
}

func TestSampleReverbScalesWithRoomSize(t *testing.T) {
	// A larger room pushes the reverb tap further back, so the two
	// renders must differ while both stay non-silent.
	render := func(roomSize float32) *Engine {
		e := newTestEngine()
		e.InsertSample("devalang://bank/test.808/kick", 0, 0.5, map[string]ast.Value{
			"reverb":    ast.Number(0.6),
			"room_size": ast.Number(roomSize),
		}, store.NewVariableTable())
		return e
	}
	small := render(0.2)
	large := render(1.5)

	if small.IsSilent() || large.IsSilent() {
		t.Fatal("both reverb renders must produce signal")
	}
	same := len(small.Buffer) == len(large.Buffer)
	if same {
		for i := range small.Buffer {
			if small.Buffer[i] != large.Buffer[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("room_size must move the reverb tap")
	}
}

func TestInsertSampleUnknownRefIsSkipped(t *testing.T) {
	e := newTestEngine()
	vars := store.NewVariableTable()
	e.InsertSample("devalang://bank/x.y/nosuchdrum", 0, 1, nil, vars)
	if !e.IsSilent() {
		t.Error("unknown sample must leave the buffer silent")
	}
}

func TestWriteWAVPadsOddBuffer(t *testing.T) {
	e := newTestEngine()
	e.Buffer = []int16{1, 2, 3} // odd

	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	if err := e.WriteWAV(path, "wav16"); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	if len(e.Buffer)%e.Channels != 0 {
		t.Errorf("buffer length %d not a whole frame count", len(e.Buffer))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("output is not a RIFF/WAVE file")
	}
}

func TestWriteWAVRejectsUnknownFormat(t *testing.T) {
	e := newTestEngine()
	e.Buffer = []int16{0, 0}
	if err := e.WriteWAV(filepath.Join(t.TempDir(), "x.wav"), "ogg"); err == nil {
		t.Error("unknown format must fail")
	}
}

func TestWriteMIDI(t *testing.T) {
	e := newTestEngine()
	e.MidiEvents = append(e.MidiEvents,
		MidiNoteEvent{Key: 69, Vel: 100, StartMs: 0, DurationMs: 500},
		MidiNoteEvent{Key: 72, Vel: 90, StartMs: 500, DurationMs: 250},
	)

	path := filepath.Join(t.TempDir(), "out.mid")
	if err := e.WriteMIDI(path, 120, 480); err != nil {
		t.Fatalf("WriteMIDI failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read midi: %v", err)
	}
	if len(data) < 14 || string(data[0:4]) != "MThd" {
		t.Fatal("output is not an SMF file")
	}
}

func TestWriteMIDIEmptyIsNoop(t *testing.T) {
	e := newTestEngine()
	path := filepath.Join(t.TempDir(), "none.mid")
	if err := e.WriteMIDI(path, 120, 480); err != nil {
		t.Fatalf("WriteMIDI on empty events failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty event list must not create a file")
	}
}

func TestApplyEffectSlideReprocessesSpan(t *testing.T) {
	e := newTestEngine()
	e.InsertNote("lead", "sine", 440, 1, 0, 100,
		map[string]ast.Value{"sustain": ast.Number(1)}, nil, nil)

	before := make([]int16, len(e.Buffer))
	copy(before, e.Buffer)

	e.ApplyEffect("slide", "lead", []ast.Value{ast.MapVal(map[string]ast.Value{
		"from": ast.Number(0),
		"to":   ast.Number(12),
	})})

	changed := false
	for i := range e.Buffer {
		if e.Buffer[i] != before[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("slide must rewrite the recorded note span")
	}
}

func TestResampleNearest(t *testing.T) {
	in := []float32{0, 1, 2, 3}
	out := resampleNearest(in, 22050, 44100)
	if len(out) != 8 {
		t.Fatalf("upsample length = %d, want 8", len(out))
	}
	out = resampleNearest(in, 44100, 22050)
	if len(out) != 2 {
		t.Fatalf("downsample length = %d, want 2", len(out))
	}
	same := resampleNearest(in, 44100, 44100)
	if len(same) != 4 {
		t.Fatalf("identity length = %d, want 4", len(same))
	}
}

func abs64(v int16) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}
