package registry

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	wav "github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// decodeAudioFile decodes a sample file to mono normalized f32 PCM at its
// native rate. WAV is primary; MP3 is the fallback container. Other
// formats return an error and surface as render warnings.
func decodeAudioFile(path string) (SampleData, error) {
	switch strings.ToLower(pathExt(path)) {
	case ".mp3":
		return decodeMP3(path)
	default:
		data, err := decodeWAV(path)
		if err == nil {
			return data, nil
		}
		// Some banks ship mp3 payloads with a wav extension; try the
		// fallback decoder before giving up.
		if mp3Data, mp3Err := decodeMP3(path); mp3Err == nil {
			return mp3Data, nil
		}
		return SampleData{}, err
	}
}

func pathExt(path string) string {
	if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
		return path[idx:]
	}
	return ""
}

// decodeWAV reads a PCM WAV file into mono f32.
func decodeWAV(path string) (SampleData, error) {
	f, err := os.Open(path)
	if err != nil {
		return SampleData{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return SampleData{}, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return SampleData{}, fmt.Errorf("decode wav %s: empty buffer", path)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for frame := 0; frame < frames; frame++ {
		var acc float32
		for ch := 0; ch < channels; ch++ {
			acc += float32(buf.Data[frame*channels+ch]) / scale
		}
		mono[frame] = acc / float32(channels)
	}

	return SampleData{Samples: mono, SampleRate: buf.Format.SampleRate}, nil
}

// decodeMP3 reads an MP3 file into mono f32. The decoder always emits
// 16-bit little-endian stereo frames.
func decodeMP3(path string) (SampleData, error) {
	f, err := os.Open(path)
	if err != nil {
		return SampleData{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return SampleData{}, fmt.Errorf("decode mp3 %s: %w", path, err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return SampleData{}, fmt.Errorf("read mp3 %s: %w", path, err)
	}

	// 4 bytes per stereo frame.
	frames := len(raw) / 4
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		right := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		mono[i] = (float32(left) + float32(right)) / 2 / 32768
	}

	return SampleData{Samples: mono, SampleRate: dec.SampleRate()}, nil
}
