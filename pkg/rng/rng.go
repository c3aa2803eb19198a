// Package rng provides the deterministic random sources used across the
// render pipeline: the per-session seed, the pattern jitter hash and the
// noise generator backing synthetic samples.
package rng

import (
	"math/bits"
	"sync"
	"time"
)

var (
	sessionOnce sync.Once
	sessionSeed float32
)

// SessionSeed returns the session's stable seed in [0,1], derived once
// from the wall clock at first use.
func SessionSeed() float32 {
	sessionOnce.Do(func() {
		nanos := time.Now().Nanosecond()
		sessionSeed = clamp01(float32(nanos) / 1e9)
	})
	return sessionSeed
}

// SetSessionSeed pins the session seed. Renders with a pinned seed are
// byte-reproducible.
func SetSessionSeed(seed float32) {
	sessionOnce.Do(func() {})
	sessionSeed = clamp01(seed)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// jitterMultiplier is the 64-bit golden-ratio constant shared by every
// platform so pattern humanization is reproducible bit for bit.
const jitterMultiplier = 0x9E3779B97F4A7C15

// JitterSigned hashes a seed through a wrapping multiply, a 13-bit rotate
// and a 7-bit xor-shift, then folds it via a signed modulo: the hash is
// reinterpreted as int64 before the %1000, so r lands in (-1,1) and the
// result in (-3,1). The signed remainder is deliberate — it matches the
// reference jitter bit for bit, sign included.
func JitterSigned(seed uint64) float32 {
	x := bits.RotateLeft64(seed*jitterMultiplier, 13)
	x ^= x >> 7
	r := float32(int64(x)%1000) / 1000
	return r*2 - 1
}

// Noise returns a deterministic pseudo-random value in [0,1) for sample
// index i, using a per-voice multiplier to decorrelate layered noise.
func Noise(i int, multiplier uint32) float32 {
	seed := uint32(i) * multiplier
	return float32((seed>>16)&0x7fff) / 32768
}

// NoiseSigned returns Noise mapped into [-1,1).
func NoiseSigned(i int, multiplier uint32) float32 {
	return Noise(i, multiplier)*2 - 1
}
