package engine

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
)

// ApplyEffect applies a chainable arrow-call effect to the buffer. echo
// and reverb process the whole buffer; slide and arp re-process the spans
// recorded for the target synth.
func (e *Engine) ApplyEffect(method, target string, args []ast.Value) {
	switch method {
	case "echo":
		e.applyEcho(args)
	case "reverb":
		e.applyReverb(args)
	case "slide":
		e.applySlide(target, args)
	case "arp":
		e.applyArp(target, args)
	default:
		logrus.WithFields(logrus.Fields{
			"module": e.ModuleName,
			"method": method,
			"target": target,
		}).Error("unknown chainable effect")
	}
}

// effectMapArg returns the first argument when it is a map.
func effectMapArg(args []ast.Value) map[string]ast.Value {
	if len(args) > 0 && args[0].Kind == ast.MapValue {
		return args[0].Map
	}
	return nil
}

// applyEcho mixes one delayed, attenuated copy of the buffer onto itself.
func (e *Engine) applyEcho(args []ast.Value) {
	delayMs := float32(250)
	feedback := float32(0.5)
	if m := effectMapArg(args); m != nil {
		if v, ok := extractF32(m, "delay"); ok {
			delayMs = v
		}
		if v, ok := extractF32(m, "feedback"); ok {
			feedback = v
		}
	}

	delaySamples := int(delayMs/1000*float32(e.SampleRate)) * e.Channels
	if delaySamples == 0 || len(e.Buffer) == 0 {
		return
	}

	out := make([]int16, len(e.Buffer))
	copy(out, e.Buffer)
	for i := delaySamples; i < len(e.Buffer); i++ {
		added := clampToI16(float32(e.Buffer[i-delaySamples]) * feedback)
		out[i] = saturatingAdd(out[i], added)
	}
	e.Buffer = out
}

// applyReverb adds a short comb tail scaled by the room size.
func (e *Engine) applyReverb(args []ast.Value) {
	roomSize := float32(0.5)
	if m := effectMapArg(args); m != nil {
		if v, ok := extractF32(m, "room_size"); ok {
			roomSize = v
		}
	}
	if len(e.Buffer) == 0 {
		return
	}

	reverbDelay := int(0.03*roomSize*float32(e.SampleRate)) * e.Channels
	if reverbDelay == 0 {
		return
	}

	out := make([]int16, len(e.Buffer))
	copy(out, e.Buffer)
	for i := reverbDelay; i < len(e.Buffer); i++ {
		added := clampToI16(float32(e.Buffer[i-reverbDelay]) * roomSize * 0.5)
		out[i] = saturatingAdd(out[i], added)
	}
	e.Buffer = out
}

// applySlide re-pitches the last recorded note spans of the target with a
// linear semitone glide.
func (e *Engine) applySlide(target string, args []ast.Value) {
	fromSemitones := float32(0)
	toSemitones := float32(0)
	if m := effectMapArg(args); m != nil {
		if v, ok := extractF32(m, "from"); ok {
			fromSemitones = v
		}
		if v, ok := extractF32(m, "to"); ok {
			toSemitones = v
		}
	}

	startRate := float32(math.Pow(2, float64(fromSemitones)/12))
	endRate := float32(math.Pow(2, float64(toSemitones)/12))

	spans, ok := e.LastNotes[target]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": e.ModuleName,
			"target": target,
		}).Warn("slide requested but no recent notes found for target")
		return
	}

	for _, span := range spans {
		end := minInt(span.Start+span.Length, len(e.Buffer))
		if span.Start >= end {
			continue
		}
		seg := make([]int16, end-span.Start)
		copy(seg, e.Buffer[span.Start:end])
		processed := resampleSegmentNearest(seg, e.Channels, startRate, endRate)
		copy(e.Buffer[span.Start:end], processed)
	}
}

// applyArp slices the last note spans into re-pitched copies layered at
// fractional offsets across the span.
func (e *Engine) applyArp(target string, args []ast.Value) {
	steps := 4
	spread := float32(0)
	if m := effectMapArg(args); m != nil {
		if v, ok := extractF32(m, "steps"); ok && v >= 1 {
			steps = int(v)
		}
		if v, ok := extractF32(m, "spread"); ok {
			spread = v
		}
	}

	spans, ok := e.LastNotes[target]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": e.ModuleName,
			"target": target,
		}).Warn("arp requested but no recent notes found for target")
		return
	}

	for _, span := range spans {
		end := minInt(span.Start+span.Length, len(e.Buffer))
		if span.Start >= end {
			continue
		}
		seg := make([]int16, end-span.Start)
		copy(seg, e.Buffer[span.Start:end])
		frames := len(seg) / e.Channels
		if frames == 0 {
			continue
		}

		for step := 0; step < steps; step++ {
			t := float32(0)
			if steps > 1 {
				t = float32(step) / float32(steps-1)
			}
			rate := float32(math.Pow(2, float64(t*spread)/12))
			processed := resampleSegmentNearest(seg, e.Channels, rate, rate)

			offsetFrames := minInt(int(t*float32(frames)), frames-1)
			offsetSamples := offsetFrames * e.Channels
			for i, s := range processed {
				dst := span.Start + offsetSamples + i
				if dst >= len(e.Buffer) {
					break
				}
				e.Buffer[dst] = saturatingAdd(e.Buffer[dst], s)
			}
		}
	}
}

// resampleSegmentNearest re-pitches an interleaved segment in place-size:
// the output keeps the source frame count while the read rate ramps from
// startRate to endRate.
func resampleSegmentNearest(src []int16, channels int, startRate, endRate float32) []int16 {
	if len(src) == 0 || channels == 0 {
		return nil
	}
	frames := len(src) / channels
	if frames == 0 {
		return nil
	}

	out := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		t := float32(0)
		if frames > 1 {
			t = float32(f) / float32(frames-1)
		}
		rate := startRate + t*(endRate-startRate)
		invRate := float32(1)
		if rate != 0 {
			invRate = 1 / rate
		}

		srcFrame := int(math.Round(float64(clampf(float32(f)*invRate, 0, float32(frames-1)))))
		for ch := 0; ch < channels; ch++ {
			sIdx := srcFrame*channels + ch
			oIdx := f*channels + ch
			if sIdx < len(src) {
				out[oIdx] = src[sIdx]
			}
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
