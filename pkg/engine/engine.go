// Package engine owns the PCM buffer and MIDI event list of a render. It
// mixes samples and synthesized notes with saturating addition and writes
// the final WAV and MIDI artifacts.
package engine

import (
	"math"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/store"
)

// Defaults of the render format.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// MidiNoteEvent is one collected note for the MIDI artifact.
type MidiNoteEvent struct {
	Key        uint8
	Vel        uint8
	StartMs    uint32
	DurationMs uint32
	Channel    uint8
}

// NoteSpan records where a synthesized note landed in the buffer so
// retroactive effects (slide, arp) can re-process it.
type NoteSpan struct {
	Start  int
	Length int
}

// Engine accumulates one render. The buffer is interleaved stereo i16 and
// grows monotonically; all mixing saturates instead of wrapping.
type Engine struct {
	ModuleName string
	SampleRate int
	Channels   int
	Buffer     []int16
	MidiEvents []MidiNoteEvent
	NoteCount  int
	LastNotes  map[string][]NoteSpan

	registry *registry.Registry
	rootDir  string
}

// New creates an engine for a module, sharing the given sample registry.
func New(moduleName string, reg *registry.Registry) *Engine {
	return &Engine{
		ModuleName: moduleName,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		LastNotes:  make(map[string][]NoteSpan),
		registry:   reg,
	}
}

// SetRootDir sets the project root used to resolve relative sample paths.
func (e *Engine) SetRootDir(dir string) {
	e.rootDir = dir
}

// CloneEmpty creates a child engine with the same format and registry but
// an empty buffer, for spawn execution.
func (e *Engine) CloneEmpty() *Engine {
	child := New(e.ModuleName, e.registry)
	child.SampleRate = e.SampleRate
	child.Channels = e.Channels
	child.rootDir = e.rootDir
	return child
}

// IsSilent reports whether every sample in the buffer is zero.
func (e *Engine) IsSilent() bool {
	for _, s := range e.Buffer {
		if s != 0 {
			return false
		}
	}
	return true
}

// Mix adds other's buffer into this one sample-wise with saturation,
// growing the buffer as needed.
func (e *Engine) Mix(other *Engine) {
	if len(other.Buffer) > len(e.Buffer) {
		e.grow(len(other.Buffer))
	}
	for i, s := range other.Buffer {
		e.Buffer[i] = saturatingAdd(e.Buffer[i], s)
	}
}

// MergeWith folds a child engine into this one: silence short-circuits in
// both directions, otherwise a saturating mix. MIDI events and note spans
// are always adopted.
func (e *Engine) MergeWith(other *Engine) {
	e.MidiEvents = append(e.MidiEvents, other.MidiEvents...)
	e.NoteCount += other.NoteCount
	for target, spans := range other.LastNotes {
		e.LastNotes[target] = append(e.LastNotes[target], spans...)
	}

	switch {
	case other.IsSilent():
		if len(other.Buffer) > len(e.Buffer) {
			e.grow(len(other.Buffer))
		}
	case e.IsSilent():
		if len(e.Buffer) > len(other.Buffer) {
			other.grow(len(e.Buffer))
		}
		e.Buffer = other.Buffer
	default:
		e.Mix(other)
	}
}

// SetDuration grows the buffer to cover at least the given length.
func (e *Engine) SetDuration(durationSecs float32) {
	total := int(durationSecs * float32(e.SampleRate) * float32(e.Channels))
	e.grow(total)
}

func (e *Engine) grow(n int) {
	if len(e.Buffer) >= n {
		return
	}
	if cap(e.Buffer) >= n {
		e.Buffer = e.Buffer[:n]
		return
	}
	grown := make([]int16, n)
	copy(grown, e.Buffer)
	e.Buffer = grown
}

func saturatingAdd(a, b int16) int16 {
	sum := int32(a) + int32(b)
	if sum > math.MaxInt16 {
		return math.MaxInt16
	}
	if sum < math.MinInt16 {
		return math.MinInt16
	}
	return int16(sum)
}

// panGains maps pan in [-1,1] to channel gains: positive pan attenuates
// the left channel, negative pan the right.
func panGains(pan float32) (left, right float32) {
	left = 1 - maxf(pan, 0)
	right = 1 + minf(pan, 0)
	return left, right
}

// extractF32 coerces a parameter map entry to a float.
func extractF32(m map[string]ast.Value, key string) (float32, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}

// extractBool coerces a parameter map entry to a bool.
func extractBool(m map[string]ast.Value, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// adsrEnvelopeValue samples the piecewise-linear ADSR at sample index i.
func adsrEnvelopeValue(i, attack, decay, sustain, release int, sustainLevel float32) float32 {
	switch {
	case i < attack:
		if attack == 0 {
			return 1
		}
		return float32(i) / float32(attack)
	case i < attack+decay:
		if decay == 0 {
			return sustainLevel
		}
		return 1 - (1-sustainLevel)*(float32(i-attack)/float32(decay))
	case i < attack+decay+sustain:
		return sustainLevel
	default:
		if release == 0 {
			return 0
		}
		idx := i - attack - decay - sustain
		v := sustainLevel * (1 - float32(idx)/float32(release))
		return maxf(v, 0)
	}
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampToI16(v float32) int16 {
	r := float32(math.Round(float64(v)))
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

// resolveRef follows variable indirection from a trigger reference to a
// concrete URI or path string: identifiers chase bindings, samples use
// their path, maps use their "entity" key.
func resolveRef(ref string, vars *store.VariableTable) string {
	seen := 0
	current := ref
	for vars != nil && seen < 8 {
		v, ok := vars.Get(current)
		if !ok {
			return current
		}
		switch v.Kind {
		case ast.StringValue, ast.SampleValue:
			return v.Str
		case ast.IdentifierValue:
			current = v.Str
			seen++
		case ast.MapValue:
			if entity, ok := v.MapGet("entity"); ok {
				if s, ok := entity.AsString(); ok {
					return s
				}
			}
			return current
		default:
			return current
		}
	}
	return current
}
