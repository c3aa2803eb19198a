package registry

import (
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/rng"
)

// syntheticRate is the sample rate of generated fallback drums.
const syntheticRate = 44100

// syntheticSample generates a procedural drum for a bank URI whose last
// segment names a known drum type. Generation is fully deterministic so
// repeated renders produce identical buffers.
func syntheticSample(uri string) (SampleData, bool) {
	_, entity, ok := SplitBankURI(uri)
	if !ok {
		return SampleData{}, false
	}
	parts := strings.Split(entity, "/")
	drum := parts[len(parts)-1]
	drum = strings.TrimSuffix(drum, ".wav")

	var samples []float32
	switch drum {
	case "kick":
		samples = generateKick(500)
	case "snare":
		samples = generateSnare(200)
	case "hihat", "hi-hat":
		samples = generateHihat(150)
	case "clap":
		samples = generateClap(200)
	case "tom", "tom-high":
		samples = generateTom(300, 250)
	case "tom-mid":
		samples = generateTom(350, 180)
	case "tom-low":
		samples = generateTom(400, 120)
	case "perc", "percussion":
		samples = generateHihat(100)
	case "cowbell":
		samples = generateCowbell(150)
	case "cymbal":
		samples = generateCymbal(250)
	default:
		return SampleData{}, false
	}

	logrus.WithFields(logrus.Fields{
		"system_name": "registry",
		"drum":        drum,
		"samples":     len(samples),
	}).Debug("generated synthetic drum sample")

	return SampleData{Samples: samples, SampleRate: syntheticRate}, true
}

func sampleCount(durationMs int) int {
	return int(float32(durationMs) / 1000 * syntheticRate)
}

// generateKick sweeps a sine from 150 Hz down to 50 Hz with a squared
// decay and slight tanh saturation.
func generateKick(durationMs int) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		pitch := 150 + (50-150)*progress
		phase := 2 * math.Pi * pitch * t

		amp := math.Max(1-progress*progress, 0)
		out[i] = float32(math.Tanh(math.Sin(phase) * amp * 0.7))
	}
	return out
}

// generateSnare mixes a 200 Hz body with bright noise under a fast decay.
func generateSnare(durationMs int) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		amp := math.Max(1-progress*3, 0)
		pitched := math.Sin(2*math.Pi*200*t) * 0.3
		noise := float64(rng.NoiseSigned(i, 12345)) * 0.7

		out[i] = clampUnit(float32((pitched + noise) * amp))
	}
	return out
}

// generateHihat is pure decorrelated noise with a very fast decay.
func generateHihat(durationMs int) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		amp := math.Max(1-progress*6, 0)
		out[i] = clampUnit(float32(float64(rng.NoiseSigned(i, 65537)) * amp * 0.5))
	}
	return out
}

// generateClap layers two low partials with noise under a two-stage decay.
func generateClap(durationMs int) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		var amp float64
		if progress < 0.2 {
			amp = 1 - (progress/0.2)*0.5
		} else {
			amp = math.Max(0.5-(progress-0.2)*0.4, 0)
		}

		pitched := math.Sin(2*math.Pi*300*t)*0.2 + math.Sin(2*math.Pi*100*t)*0.3
		noise := float64(rng.NoiseSigned(i, 12345)) * 0.5

		out[i] = clampUnit(float32((pitched + noise) * amp))
	}
	return out
}

// generateTom sweeps a tuned sine from 1.5x to 0.5x the nominal pitch.
func generateTom(durationMs int, pitch float64) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		current := pitch*1.5 + (pitch*0.5-pitch*1.5)*progress
		amp := math.Max(1-progress*progress*2, 0)

		out[i] = float32(math.Sin(2*math.Pi*current*t) * amp * 0.7)
	}
	return out
}

// generateCowbell stacks three inharmonic partials.
func generateCowbell(durationMs int) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		amp := math.Max(1-progress*2, 0)
		pitched := math.Sin(2*math.Pi*540*t)*0.3 +
			math.Sin(2*math.Pi*810*t)*0.25 +
			math.Sin(2*math.Pi*1200*t)*0.2

		out[i] = clampUnit(float32(pitched * amp * 0.7))
	}
	return out
}

// generateCymbal blends two noise layers with faint high partials.
func generateCymbal(durationMs int) []float32 {
	n := sampleCount(durationMs)
	out := make([]float32, n)
	durSecs := float64(durationMs) / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / syntheticRate
		progress := t / durSecs

		noise := float64(rng.NoiseSigned(i, 12345))*0.4 +
			float64(rng.NoiseSigned(i, 54321))*0.3
		pitched := math.Sin(2*math.Pi*8000*t)*0.1 + math.Sin(2*math.Pi*6000*t)*0.1

		amp := math.Max(1-progress*0.7, 0)
		out[i] = clampUnit(float32((noise + pitched) * amp * 0.6))
	}
	return out
}

func clampUnit(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
