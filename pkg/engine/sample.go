package engine

import (
	"math"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/store"
)

// delayFeedback is the fixed feedback coefficient of the delay effect.
const delayFeedback = 0.35

// sampleEffects is the decoded per-voice effect chain of a trigger.
type sampleEffects struct {
	gain     float32
	pan      float32
	fadeIn   float32
	fadeOut  float32
	pitch    float32
	drive    float32
	reverb   float32
	roomSize float32
	delay    float32
}

func decodeSampleEffects(effects map[string]ast.Value, moduleName string) sampleEffects {
	fx := sampleEffects{gain: 1, pitch: 1, roomSize: 1}
	for key, val := range effects {
		switch key {
		case "gain":
			if f, ok := val.AsFloat(); ok {
				fx.gain = f
			}
		case "pan":
			if f, ok := val.AsFloat(); ok {
				fx.pan = f
			}
		case "fadeIn":
			if f, ok := val.AsFloat(); ok {
				fx.fadeIn = f
			}
		case "fadeOut":
			if f, ok := val.AsFloat(); ok {
				fx.fadeOut = f
			}
		case "pitch":
			if f, ok := val.AsFloat(); ok && f != 0 {
				fx.pitch = f
			}
		case "drive":
			if f, ok := val.AsFloat(); ok {
				fx.drive = f
			}
		case "reverb":
			if f, ok := val.AsFloat(); ok {
				fx.reverb = f
			}
		case "room_size":
			if f, ok := val.AsFloat(); ok {
				fx.roomSize = f
			}
		case "delay":
			if f, ok := val.AsFloat(); ok {
				fx.delay = f
			}
		case "one_shot":
			// Consumed by the trigger handler for max-end bookkeeping.
		default:
			logrus.WithFields(logrus.Fields{
				"module": moduleName,
				"effect": key,
			}).Warn("unknown or invalid effect")
		}
	}
	return fx
}

// SampleSeconds reports the duration of the referenced sample at the
// engine rate, or 0 when it cannot be resolved.
func (e *Engine) SampleSeconds(ref string, vars *store.VariableTable) float32 {
	data, ok := e.fetchSample(ref, vars)
	if !ok || data.SampleRate <= 0 {
		return 0
	}
	return float32(len(data.Samples)) / float32(data.SampleRate)
}

// InsertSample schedules a sample at timeSecs for at most durSecs,
// applying the effect chain and mixing the result into the buffer.
func (e *Engine) InsertSample(ref string, timeSecs, durSecs float32, effects map[string]ast.Value, vars *store.VariableTable) {
	if ref == "" {
		logrus.WithField("module", e.ModuleName).Error("empty sample reference")
		return
	}

	data, ok := e.fetchSample(ref, vars)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"module": e.ModuleName,
			"ref":    ref,
		}).Warn("unknown trigger or missing audio file")
		return
	}

	mono := data.Samples
	// The source rate may differ from the engine rate: nearest-neighbour
	// resample before mixing.
	if data.SampleRate != e.SampleRate && data.SampleRate > 0 {
		mono = resampleNearest(mono, data.SampleRate, e.SampleRate)
	}

	maxSamples := int(durSecs * float32(e.SampleRate))
	if maxSamples < len(mono) {
		mono = mono[:maxSamples]
	}
	if len(mono) == 0 {
		return
	}

	fx := sampleEffects{gain: 1, pitch: 1}
	if effects != nil {
		fx = decodeSampleEffects(effects, e.ModuleName)
	}
	e.mixSample(mono, timeSecs, fx)
}

// mixSample runs the effect chain in order (pitch, gain, fades, drive,
// delay, reverb), clamps, pans and saturating-mixes into the buffer.
func (e *Engine) mixSample(mono []float32, timeSecs float32, fx sampleEffects) {
	offset := int(timeSecs * float32(e.SampleRate) * float32(e.Channels))
	total := len(mono)

	required := offset + total*e.Channels
	e.grow(required)

	fadeInSamples := int(fx.fadeIn * float32(e.SampleRate))
	fadeOutSamples := int(fx.fadeOut * float32(e.SampleRate))

	delaySamples := 0
	if fx.delay > 0 {
		delaySamples = int(fx.delay * float32(e.SampleRate))
	}
	var delayBuffer []float32
	if delaySamples > 0 {
		delayBuffer = make([]float32, total+delaySamples)
	}

	leftGain, rightGain := panGains(fx.pan)

	for i := 0; i < total; i++ {
		// Pitch first: nearest-neighbour index scaling.
		idx := i
		if fx.pitch != 1 {
			idx = int(float32(i) / fx.pitch)
		}
		var adjusted float32
		if idx < total {
			adjusted = mono[idx] * math.MaxInt16
		}

		adjusted *= fx.gain

		if fadeInSamples > 0 && i < fadeInSamples {
			adjusted *= float32(i) / float32(fadeInSamples)
		}
		if fadeOutSamples > 0 && i >= total-fadeOutSamples {
			adjusted *= float32(total-i) / float32(fadeOutSamples)
		}

		if fx.drive > 0 {
			normalized := adjusted / math.MaxInt16
			preGain := float32(math.Pow(10, float64(fx.drive)/20))
			adjusted = float32(math.Tanh(float64(normalized*preGain))) * math.MaxInt16
		}

		if delaySamples > 0 {
			if i >= delaySamples {
				adjusted += delayBuffer[i-delaySamples] * delayFeedback
			}
			delayBuffer[i] = adjusted
		}

		if fx.reverb > 0 {
			// Short reverb tap: delay scales with the room size, the
			// coefficient is half the reverb amount.
			reverbDelay := int(0.03 * float32(e.SampleRate) * fx.roomSize)
			if reverbDelay > 0 && i >= reverbDelay {
				adjusted += float32(e.Buffer[offset+i-reverbDelay]) * fx.reverb * 0.5
			}
		}

		sample := clampToI16(adjusted)
		left := int16(float32(sample) * leftGain)
		right := int16(float32(sample) * rightGain)

		leftPos := offset + i*2
		rightPos := leftPos + 1
		if rightPos < len(e.Buffer) {
			e.Buffer[leftPos] = saturatingAdd(e.Buffer[leftPos], left)
			e.Buffer[rightPos] = saturatingAdd(e.Buffer[rightPos], right)
		}
	}
}

// fetchSample resolves a trigger reference through the variable table and
// the registry: devalang:// URIs consult the registry (with synthetic
// fallback); other strings resolve as filesystem paths under the project
// root.
func (e *Engine) fetchSample(ref string, vars *store.VariableTable) (registry.SampleData, bool) {
	resolved := resolveRef(ref, vars)

	if e.registry == nil {
		return registry.SampleData{}, false
	}
	if registry.IsBankURI(resolved) {
		return e.registry.Get(resolved)
	}

	path := resolved
	if !filepath.IsAbs(path) && e.rootDir != "" {
		path = filepath.Join(e.rootDir, path)
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	// Cached from an earlier insert?
	if data, ok := e.registry.Get(filepath.ToSlash(path)); ok {
		return data, true
	}
	uri, err := e.registry.RegisterSampleFromPath(path)
	if err != nil {
		return registry.SampleData{}, false
	}
	return e.registry.Get(uri)
}

// resampleNearest converts mono PCM between sample rates by index scaling.
func resampleNearest(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(in) == 0 {
		return in
	}
	outLen := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		src := int(float64(i) * ratio)
		if src >= len(in) {
			src = len(in) - 1
		}
		out[i] = in[src]
	}
	return out
}
