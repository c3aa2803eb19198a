package engine

import "math"

// MixFrames mixes interleaved normalized f32 frames (plugin output) into
// the buffer at startMs, recording the span for retroactive effects.
func (e *Engine) MixFrames(target string, frames []float32, startMs float32) {
	offset := int(startMs/1000*float32(e.SampleRate)) * e.Channels
	required := offset + len(frames)
	e.grow(required)

	for i, f := range frames {
		s := clampToI16(clampf(f, -1, 1) * math.MaxInt16)
		idx := offset + i
		if idx < len(e.Buffer) {
			e.Buffer[idx] = saturatingAdd(e.Buffer[idx], s)
		}
	}

	e.NoteCount++
	if target != "" {
		e.LastNotes[target] = append(e.LastNotes[target], NoteSpan{Start: offset, Length: len(frames)})
	}
}
