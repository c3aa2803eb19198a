package interp

import (
	"math"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/engine"
	"github.com/opd-ai/devalang/pkg/rng"
	"github.com/opd-ai/devalang/pkg/store"
)

// execPattern expands a step-sequencer pattern over one bar (4 beats).
// Every non-rest character triggers the target entity; swing shifts odd
// steps forward and even steps backward; humanize adds a deterministic
// jitter. The cursor does not advance.
func (it *Interpreter) execPattern(
	pattern ast.Statement,
	eng *engine.Engine,
	vars *store.VariableTable,
	baseDuration, maxEnd, cursor float32,
) (float32, float32) {
	patternStr, swing, humanize := patternSpec(pattern.Value)
	patternStr = stripWhitespace(patternStr)
	if patternStr == "" {
		return maxEnd, cursor
	}

	target := pattern.Target
	if target == "" {
		target = pattern.Name
	}

	steps := []rune(patternStr)
	stepCount := float32(len(steps))
	stepDuration := (4 * baseDuration) / stepCount

	for i, ch := range steps {
		if ch == '-' {
			continue
		}

		eventTime := cursor + float32(i)*stepDuration

		// Swing: odd-index steps shift forward, even-index steps backward.
		if swing != 0 {
			if i%2 == 1 {
				eventTime += swing * stepDuration
			} else {
				eventTime -= swing * stepDuration
			}
		}

		if humanize != 0 {
			jitterRange := humanize * stepDuration
			seed := uint64(len(eng.ModuleName)+i) + uint64(math.Float32bits(eventTime))
			eventTime += rng.JitterSigned(seed) * jitterRange / 2
		}
		if eventTime < 0 {
			eventTime = 0
		}

		ref, ok := it.resolveTriggerRef(target, vars)
		if !ok {
			ref = target
		}

		sampleLength := eng.SampleSeconds(ref, vars)
		playLength := stepDuration
		if sampleLength > 0 && sampleLength < playLength {
			playLength = sampleLength
		}

		eng.InsertSample(ref, eventTime, playLength, nil, vars)

		if end := eventTime + playLength; end > maxEnd {
			maxEnd = end
		}
	}

	return maxEnd, cursor
}

// patternSpec extracts the step string plus swing and humanize amounts
// from either pattern value form.
func patternSpec(v ast.Value) (pattern string, swing, humanize float32) {
	switch v.Kind {
	case ast.StringValue:
		return v.Str, 0, 0
	case ast.MapValue:
		if p, ok := v.MapGet("pattern"); ok {
			pattern, _ = p.AsString()
		}
		if s, ok := v.MapGet("swing"); ok {
			swing, _ = s.AsFloat()
		}
		if h, ok := v.MapGet("humanize"); ok {
			humanize, _ = h.AsFloat()
		}
	}
	return pattern, swing, humanize
}

func stripWhitespace(s string) string {
	var b strings.Builder
	for _, ch := range s {
		if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
