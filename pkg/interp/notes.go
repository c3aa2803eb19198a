package interp

import (
	"math"
	"strconv"
	"strings"
)

func exp2(x float64) float64 { return math.Exp2(x) }

var noteSemitones = map[string]int{
	"C": 0, "C#": 1, "Db": 1,
	"D": 2, "D#": 3, "Eb": 3,
	"E": 4, "Fb": 4, "E#": 5,
	"F": 5, "F#": 6, "Gb": 6,
	"G": 7, "G#": 8, "Ab": 8,
	"A": 9, "A#": 10, "Bb": 10,
	"B": 11, "Cb": 11, "B#": 0,
}

// NoteToFreq converts scientific pitch notation (C4, F#3, Bb5) to a
// frequency in Hz. Unparseable names fall back to A4 (440 Hz).
func NoteToFreq(note string) float32 {
	name, octave, ok := splitNote(note)
	if !ok {
		return 440
	}
	semitone, ok := noteSemitones[name]
	if !ok {
		return 440
	}
	midi := (octave+1)*12 + semitone
	return 440 * float32(math.Exp2((float64(midi)-69)/12))
}

// splitNote separates the pitch-class letters from the trailing octave.
func splitNote(note string) (name string, octave int, ok bool) {
	if len(note) < 2 {
		return "", 0, false
	}
	// The octave is the trailing digit run (optionally negative).
	idx := len(note)
	for idx > 0 && note[idx-1] >= '0' && note[idx-1] <= '9' {
		idx--
	}
	if idx > 1 && note[idx-1] == '-' {
		idx--
	}
	if idx == len(note) || idx == 0 {
		return "", 0, false
	}
	oct, err := strconv.Atoi(note[idx:])
	if err != nil {
		return "", 0, false
	}
	return note[:idx], oct, true
}

// chordIntervals maps quality suffixes to semitone offsets from the root.
var chordIntervals = map[string][]int{
	"maj":  {0, 4, 7},
	"":     {0, 4, 7},
	"min":  {0, 3, 7},
	"m":    {0, 3, 7},
	"dim":  {0, 3, 6},
	"aug":  {0, 4, 8},
	"maj7": {0, 4, 7, 11},
	"min7": {0, 3, 7, 10},
	"m7":   {0, 3, 7, 10},
}

// ExpandChordShorthands expands names like C#min, Amaj7 or Ebm into their
// constituent notes in octave 4. Names that already carry an octave pass
// through untouched.
func ExpandChordShorthands(names []string) []string {
	var out []string
	for _, name := range names {
		if root, quality, ok := parseChordShorthand(name); ok {
			intervals := chordIntervals[quality]
			rootMidi := (4+1)*12 + root
			for _, iv := range intervals {
				out = append(out, midiToNote(rootMidi+iv))
			}
			continue
		}
		out = append(out, name)
	}
	return out
}

// parseChordShorthand splits a shorthand like "C#min7" into root semitone
// and quality. A name whose tail parses as an octave is a plain note, not
// a chord.
func parseChordShorthand(s string) (root int, quality string, ok bool) {
	if len(s) < 2 {
		return 0, "", false
	}
	// A name whose head is a valid pitch class and tail an octave is a
	// plain note (D7 is D in octave 7, not a dominant seventh).
	if head, _, isNote := splitNote(s); isNote {
		if _, valid := noteSemitones[head]; valid {
			return 0, "", false
		}
	}

	rootLen := 1
	if len(s) >= 2 && (s[1] == '#' || s[1] == 'b') {
		rootLen = 2
	}
	rootName := s[:rootLen]
	semitone, found := noteSemitones[rootName]
	if !found {
		return 0, "", false
	}

	quality = strings.ToLower(s[rootLen:])
	if _, known := chordIntervals[quality]; !known {
		return 0, "", false
	}
	return semitone, quality, true
}

var semitonesToName = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func midiToNote(midi int) string {
	octave := midi/12 - 1
	return semitonesToName[((midi%12)+12)%12] + strconv.Itoa(octave)
}
