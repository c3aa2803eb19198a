package engine

import (
	"fmt"
	"os"
	"sort"

	audio "github.com/go-audio/audio"
	wav "github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	midi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultPPQ is the MIDI pulses-per-quarter resolution.
const DefaultPPQ = 480

// WriteWAV finalizes the buffer (padding to an even sample count) and
// writes a PCM WAV file. format is "wav16", "wav24" or "wav32"; the wider
// formats left-shift the 16-bit samples into the upper bits.
func (e *Engine) WriteWAV(path, format string) error {
	if len(e.Buffer)%e.Channels != 0 {
		e.Buffer = append(e.Buffer, 0)
		logrus.WithField("module", e.ModuleName).Debug("padded buffer to full stereo frame")
	}

	bits := 16
	switch format {
	case "", "wav16":
	case "wav24":
		bits = 24
	case "wav32":
		bits = 32
	default:
		return fmt.Errorf("unsupported audio format: %s", format)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, e.SampleRate, bits, e.Channels, 1)

	data := make([]int, len(e.Buffer))
	shift := uint(bits - 16)
	for i, s := range e.Buffer {
		data[i] = int(s) << shift
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: e.Channels, SampleRate: e.SampleRate},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteMIDI writes the collected note events as an SMF type 0 file: one
// track, a tempo meta at tick 0 and sorted note-on/note-off pairs.
func (e *Engine) WriteMIDI(path string, bpm float32, ppq uint16) error {
	if len(e.MidiEvents) == 0 {
		return nil
	}
	if bpm <= 0 {
		bpm = 120
	}
	if ppq == 0 {
		ppq = DefaultPPQ
	}

	type absEvent struct {
		tick uint64
		msg  midi.Message
	}

	ticksPerSec := float64(bpm) / 60 * float64(ppq)
	var events []absEvent
	for _, ev := range e.MidiEvents {
		startSecs := float64(ev.StartMs) / 1000
		durSecs := float64(ev.DurationMs) / 1000
		startTick := uint64(startSecs*ticksPerSec + 0.5)
		offTick := uint64((startSecs+durSecs)*ticksPerSec + 0.5)
		if offTick < startTick {
			offTick = startTick
		}
		events = append(events, absEvent{
			tick: startTick,
			msg:  midi.NoteOn(ev.Channel, ev.Key, ev.Vel),
		})
		events = append(events, absEvent{
			tick: offTick,
			msg:  midi.NoteOff(ev.Channel, ev.Key),
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ppq)

	var track smf.Track
	track.Add(0, smf.MetaTempo(float64(bpm)))

	var lastTick uint64
	for _, ev := range events {
		delta := uint32(ev.tick - lastTick)
		track.Add(delta, ev.msg)
		lastTick = ev.tick
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return fmt.Errorf("assemble midi track: %w", err)
	}
	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("write midi file: %w", err)
	}
	return nil
}
