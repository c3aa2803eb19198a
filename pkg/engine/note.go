package engine

import (
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
)

// noteSetup is the fully-resolved parameter set of one synthesized note.
type noteSetup struct {
	totalSamples int
	startSample  int

	attackSamples  int
	decaySamples   int
	releaseSamples int
	sustainLevel   float32

	freqStart float32
	freqEnd   float32
	ampStart  float32
	ampEnd    float32
	velocity  float32
	pan       float32

	voices       int
	unisonDetune float32

	lfoRate   float32
	lfoDepth  float32
	lfoTarget string

	filters []filterSpec

	pluckClick        float32
	pluckClickSamples int

	drive float32

	volumeEnv []envPoint
	panEnv    []envPoint
	pitchEnv  []envPoint
}

type filterSpec struct {
	kind   string
	cutoff float32
}

type envPoint struct {
	pos float32
	val float32
}

// InsertNote synthesizes a note into the buffer and records its MIDI
// event and buffer span. durationMs already includes note-level overrides;
// gate scaling happens here.
func (e *Engine) InsertNote(
	target, waveform string,
	freq, amp float32,
	startMs, durationMs float32,
	synthParams, noteParams map[string]ast.Value,
	automation map[string]ast.Value,
) {
	setup := e.buildNoteSetup(freq, amp, startMs, durationMs, synthParams, noteParams, automation)
	if setup.totalSamples == 0 {
		return
	}

	// The MIDI event reflects the requested note, not the DSP details.
	midiKey := math.Round(69 + 12*math.Log2(float64(freq)/440))
	e.MidiEvents = append(e.MidiEvents, MidiNoteEvent{
		Key:        uint8(clampf(float32(midiKey), 0, 127)),
		Vel:        uint8(math.Round(float64(clampf(setup.velocity, 0, 1)) * 127)),
		StartMs:    uint32(maxf(startMs, 0)),
		DurationMs: uint32(float32(setup.totalSamples) / float32(e.SampleRate) * 1000),
		Channel:    0,
	})

	mono := e.renderVoices(waveform, setup)
	e.applyFilters(mono, setup.filters)
	span := e.mixNote(mono, setup)

	e.NoteCount++
	if target != "" {
		e.LastNotes[target] = append(e.LastNotes[target], span)
	}
}

func (e *Engine) buildNoteSetup(
	freq, amp float32,
	startMs, durationMs float32,
	synthParams, noteParams map[string]ast.Value,
	automation map[string]ast.Value,
) noteSetup {
	sampleRate := float32(e.SampleRate)

	attack, _ := extractF32(synthParams, "attack")
	decay, _ := extractF32(synthParams, "decay")
	sustain, ok := extractF32(synthParams, "sustain")
	if !ok {
		sustain = 1
	}
	release, _ := extractF32(synthParams, "release")

	// Values over 10 are taken as milliseconds, otherwise as seconds.
	attackS := msOrSeconds(attack)
	decayS := msOrSeconds(decay)
	releaseS := msOrSeconds(release)
	sustainLevel := sustain
	if sustain > 1 {
		sustainLevel = clampf(sustain/100, 0, 1)
	} else {
		sustainLevel = clampf(sustain, 0, 1)
	}

	// Gate scales the effective duration; >1 is a percentage.
	if gate, ok := firstF32(noteParams, synthParams, "gate"); ok && gate > 0 {
		if gate <= 1 {
			durationMs *= gate
		} else {
			durationMs *= gate / 100
		}
	}

	velocity, ok := extractF32(noteParams, "velocity")
	if !ok {
		velocity = 1
	}

	detuneCents, _ := firstF32(noteParams, synthParams, "detune")
	freq *= float32(math.Pow(2, float64(detuneCents)/1200))

	ampStart := amp * clampf(velocity, 0, 1)
	ampEnd := ampStart
	freqStart := freq
	freqEnd := freq

	if glide, _ := extractBool(noteParams, "glide"); glide {
		if target, ok := extractF32(noteParams, "target_freq"); ok {
			freqEnd = target
		} else {
			freqEnd = freq * 1.5
		}
	}
	if slide, _ := extractBool(noteParams, "slide"); slide {
		if target, ok := extractF32(noteParams, "target_amp"); ok {
			ampEnd = target * clampf(velocity, 0, 1)
		} else {
			ampEnd = ampStart * 0.5
		}
	}

	setup := noteSetup{
		totalSamples:   int(durationMs / 1000 * sampleRate),
		startSample:    int(startMs / 1000 * sampleRate),
		attackSamples:  int(attackS * sampleRate),
		decaySamples:   int(decayS * sampleRate),
		releaseSamples: int(releaseS * sampleRate),
		sustainLevel:   sustainLevel,
		freqStart:      freqStart,
		freqEnd:        freqEnd,
		ampStart:       ampStart,
		ampEnd:         ampEnd,
		velocity:       velocity,
	}

	if pan, ok := extractF32(noteParams, "pan"); ok {
		setup.pan = clampf(pan, -1, 1)
	}

	voices, _ := firstF32(noteParams, synthParams, "voices")
	setup.voices = int(maxf(voices, 1))
	setup.unisonDetune, _ = firstF32(noteParams, synthParams, "unison_detune")

	setup.drive, _ = firstF32(noteParams, synthParams, "drive")

	setup.pluckClick, _ = firstF32(noteParams, synthParams, "pluck_click")
	clickMs, ok := firstF32(noteParams, synthParams, "pluck_click_ms")
	if !ok {
		clickMs = 10
	}
	setup.pluckClickSamples = int(clickMs / 1000 * sampleRate)

	// LFO: synth params first, note params override.
	for _, params := range []map[string]ast.Value{synthParams, noteParams} {
		lfo, ok := params["lfo"]
		if !ok || lfo.Kind != ast.MapValue {
			continue
		}
		if rate, ok := extractF32(lfo.Map, "rate"); ok {
			setup.lfoRate = rate
		}
		if depth, ok := extractF32(lfo.Map, "depth"); ok {
			setup.lfoDepth = depth
		}
		if target, ok := lfo.Map["target"]; ok {
			if s, ok := target.AsString(); ok {
				setup.lfoTarget = s
			}
		}
	}

	// Filter chain: synth-level specs first, note-level appended.
	for _, params := range []map[string]ast.Value{synthParams, noteParams} {
		arr, ok := params["filters"]
		if !ok || arr.Kind != ast.ArrayValue {
			continue
		}
		for _, item := range arr.Items {
			if item.Kind != ast.MapValue {
				continue
			}
			spec := filterSpec{kind: "lowpass", cutoff: 1000}
			if t, ok := item.Map["type"]; ok {
				if s, ok := t.AsString(); ok {
					spec.kind = s
				}
			}
			if cutoff, ok := extractF32(item.Map, "cutoff"); ok {
				spec.cutoff = cutoff
			}
			setup.filters = append(setup.filters, spec)
		}
	}

	setup.volumeEnv = envelopePoints(automation, "volume")
	setup.panEnv = envelopePoints(automation, "pan")
	setup.pitchEnv = envelopePoints(automation, "pitch")

	return setup
}

func msOrSeconds(v float32) float32 {
	if v > 10 {
		return v / 1000
	}
	return v
}

// firstF32 prefers the note-level map over the synth-level map.
func firstF32(notes, synths map[string]ast.Value, key string) (float32, bool) {
	if v, ok := extractF32(notes, key); ok {
		return v, true
	}
	return extractF32(synths, key)
}

// renderVoices generates the mono signal: detuned unison voices summed,
// ADSR, glide, slide, LFO, pluck click, drive and the anti-click fades.
func (e *Engine) renderVoices(waveform string, setup noteSetup) []float32 {
	sampleRate := float32(e.SampleRate)
	total := setup.totalSamples
	mono := make([]float32, total)

	voices := setup.voices
	if voices < 1 {
		voices = 1
	}
	norm := float32(1 / math.Sqrt(float64(voices)))

	// Per-voice detune offsets in cents, spread across ±unisonDetune with
	// the center voice included.
	offsets := make([]float64, voices)
	if voices > 1 && setup.unisonDetune != 0 {
		for v := 0; v < voices; v++ {
			t := float64(v)/float64(voices-1)*2 - 1
			offsets[v] = t * float64(setup.unisonDetune)
		}
	}
	phases := make([]float64, voices)

	sustainSamples := 0
	if total > setup.attackSamples+setup.decaySamples+setup.releaseSamples {
		sustainSamples = total - setup.attackSamples - setup.decaySamples - setup.releaseSamples
	}

	fadeLen := int(sampleRate * 0.01)
	dt := 1 / float64(sampleRate)

	for i := 0; i < total; i++ {
		progress := float32(i) / float32(maxInt(total, 1))

		freq := setup.freqStart + (setup.freqEnd-setup.freqStart)*progress
		ampNow := setup.ampStart + (setup.ampEnd-setup.ampStart)*progress

		// Automation pitch is a multiplier envelope; LFO can also target
		// pitch.
		if len(setup.pitchEnv) > 0 {
			freq *= envelopeAt(setup.pitchEnv, progress)
		}
		if setup.lfoDepth > 0 && setup.lfoTarget == "pitch" {
			t := float64(i) * dt
			mod := math.Sin(2 * math.Pi * float64(setup.lfoRate) * t)
			freq *= float32(math.Pow(2, mod*float64(setup.lfoDepth)/1200))
		}

		var value float32
		for v := 0; v < voices; v++ {
			voiceFreq := float64(freq) * math.Pow(2, offsets[v]/1200)
			phases[v] += voiceFreq * dt
			value += waveformAt(waveform, phases[v])
		}
		value *= norm

		envelope := adsrEnvelopeValue(i,
			setup.attackSamples, setup.decaySamples, sustainSamples,
			setup.releaseSamples, setup.sustainLevel)
		value *= envelope

		if setup.lfoDepth > 0 && (setup.lfoTarget == "amp" || setup.lfoTarget == "volume") {
			t := float64(i) * dt
			mod := math.Sin(2 * math.Pi * float64(setup.lfoRate) * t)
			value *= 1 + float32(mod)*setup.lfoDepth
		}

		if setup.pluckClick > 0 && i < setup.pluckClickSamples {
			decay := 1 - float32(i)/float32(maxInt(setup.pluckClickSamples, 1))
			value += setup.pluckClick * decay * waveformAt("square", phases[0]*3)
		}

		if len(setup.volumeEnv) > 0 {
			value *= envelopeAt(setup.volumeEnv, progress)
		}

		value *= ampNow

		if setup.drive > 0 {
			preGain := math.Pow(10, float64(setup.drive)/20)
			value = float32(math.Tanh(float64(value) * preGain))
		}

		// Short linear fades against clicks at the note boundaries.
		if fadeLen > 0 {
			if i < fadeLen {
				value *= float32(i) / float32(fadeLen)
			} else if i >= total-fadeLen {
				value *= float32(total-i) / float32(fadeLen)
			}
		}

		mono[i] = value
	}
	return mono
}

// waveformAt evaluates a waveform from an accumulated cycle count so
// frequency ramps stay phase-continuous.
func waveformAt(waveform string, cycles float64) float32 {
	switch waveform {
	case "sine":
		return float32(math.Sin(2 * math.Pi * cycles))
	case "square":
		if math.Sin(2*math.Pi*cycles) >= 0 {
			return 1
		}
		return -1
	case "saw":
		return float32(2 * (cycles - math.Floor(cycles+0.5)))
	case "triangle":
		frac := cycles - math.Floor(cycles)
		return float32(2*math.Abs(2*frac-1) - 1)
	default:
		return 0
	}
}

// applyFilters runs the one-pole filter chain over the mono signal.
func (e *Engine) applyFilters(mono []float32, filters []filterSpec) {
	dt := 1 / float64(e.SampleRate)
	for _, f := range filters {
		if f.cutoff <= 0 {
			continue
		}
		rc := 1 / (2 * math.Pi * float64(f.cutoff))
		switch f.kind {
		case "lowpass":
			alpha := float32(dt / (rc + dt))
			var prev float32
			for i, x := range mono {
				prev += alpha * (x - prev)
				mono[i] = prev
			}
		case "highpass":
			alpha := float32(rc / (rc + dt))
			var prevIn, prevOut float32
			for i, x := range mono {
				prevOut = alpha * (prevOut + x - prevIn)
				prevIn = x
				mono[i] = prevOut
			}
		default:
			logrus.WithFields(logrus.Fields{
				"module": e.ModuleName,
				"filter": f.kind,
			}).Warn("unknown filter type")
		}
	}
}

// mixNote pans the mono signal into the stereo buffer with saturating
// addition and returns the written span.
func (e *Engine) mixNote(mono []float32, setup noteSetup) NoteSpan {
	offset := setup.startSample * e.Channels
	required := offset + len(mono)*e.Channels
	e.grow(required)

	for i, v := range mono {
		pan := setup.pan
		if len(setup.panEnv) > 0 {
			progress := float32(i) / float32(maxInt(len(mono), 1))
			pan = clampf(pan+envelopeAt(setup.panEnv, progress), -1, 1)
		}
		leftGain, rightGain := panGains(pan)

		scaled := v * math.MaxInt16
		left := clampToI16(scaled * leftGain)
		right := clampToI16(scaled * rightGain)

		leftPos := offset + i*e.Channels
		rightPos := leftPos + 1
		if rightPos < len(e.Buffer) {
			e.Buffer[leftPos] = saturatingAdd(e.Buffer[leftPos], left)
			e.Buffer[rightPos] = saturatingAdd(e.Buffer[rightPos], right)
		}
	}

	return NoteSpan{Start: offset, Length: len(mono) * e.Channels}
}

// envelopePoints extracts a sorted automation envelope for one parameter:
// map keys are positions in [0,1], values the parameter value there.
func envelopePoints(automation map[string]ast.Value, param string) []envPoint {
	if automation == nil {
		return nil
	}
	raw, ok := automation[param]
	if !ok || raw.Kind != ast.MapValue {
		return nil
	}
	points := make([]envPoint, 0, len(raw.Map))
	for key, val := range raw.Map {
		pos, err := strconv.ParseFloat(key, 32)
		if err != nil {
			continue
		}
		v, ok := val.AsFloat()
		if !ok {
			continue
		}
		points = append(points, envPoint{pos: clampf(float32(pos), 0, 1), val: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].pos < points[j].pos })
	return points
}

// envelopeAt samples an envelope with linear interpolation.
func envelopeAt(points []envPoint, pos float32) float32 {
	if len(points) == 0 {
		return 1
	}
	if pos <= points[0].pos {
		return points[0].val
	}
	for i := 1; i < len(points); i++ {
		if pos <= points[i].pos {
			span := points[i].pos - points[i-1].pos
			if span <= 0 {
				return points[i].val
			}
			t := (pos - points[i-1].pos) / span
			return points[i-1].val + (points[i].val-points[i-1].val)*t
		}
	}
	return points[len(points)-1].val
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
