package eval

import "math"

// evalMathFunc evaluates the $math.* functions.
func evalMathFunc(name string, args []float32, env Env) (float32, bool) {
	switch name {
	case "sin":
		if len(args) < 1 {
			return 0, false
		}
		return float32(math.Sin(float64(args[0]))), true
	case "cos":
		if len(args) < 1 {
			return 0, false
		}
		return float32(math.Cos(float64(args[0]))), true
	case "random":
		// Deterministic: the fractional-sine trick seeded explicitly or by
		// the session seed. Never a platform RNG.
		seed := float64(0)
		if len(args) > 0 {
			seed = float64(args[0])
		} else if v, ok := env.resolveEnvAtom("$env.seed"); ok {
			seed = float64(v)
		}
		x := math.Sin(seed*12.9898) * 43758.547
		frac := x - math.Floor(x)
		r := frac*2 - 1
		if r < -1 {
			r = -1
		} else if r > 1 {
			r = 1
		}
		return float32(r), true
	case "lerp":
		if len(args) < 3 {
			return 0, false
		}
		return args[0] + (args[1]-args[0])*args[2], true
	}
	return 0, false
}

// evalModFunc evaluates the $mod.* modulators: LFO shapes over the beat
// position and a normalized ADSR envelope.
func evalModFunc(name string, args []float32, env Env) (float32, bool) {
	switch name {
	case "lfo.sine":
		rate := float32(1)
		if len(args) > 0 {
			rate = args[0]
		}
		return float32(math.Sin(2 * math.Pi * float64(rate) * float64(env.Beat))), true
	case "lfo.tri", "lfo.triangle":
		rate := float32(1)
		if len(args) > 0 {
			rate = args[0]
		}
		phase := float64(rate) * float64(env.Beat)
		phase -= math.Floor(phase)
		return float32(4*math.Abs(phase-0.5) - 1), true
	case "envelope", "mod.envelope":
		if len(args) < 5 {
			return 0, false
		}
		t := args[4]
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		return adsrAt(args[0], args[1], args[2], args[3], t), true
	}
	return 0, false
}

// adsrAt samples a normalized ADSR envelope at t in [0,1]. The attack,
// decay and release phases are scaled so together they span the unit
// interval; what remains holds the sustain level.
func adsrAt(attack, decay, sustain, release, t float32) float32 {
	a := maxf(attack, 0)
	d := maxf(decay, 0)
	r := maxf(release, 0)
	s := clampf(sustain, 0, 1)

	total := maxf(a+d+r, 1e-6)
	ap := a / total
	dp := d / total
	rp := r / total

	switch {
	case t < ap:
		if ap <= 0 {
			return 1
		}
		return t / ap
	case t < ap+dp:
		u := (t - ap) / maxf(dp, 1e-6)
		return 1 - (1-s)*u
	case t < 1-rp:
		return s
	default:
		u := (t - (1 - rp)) / maxf(rp, 1e-6)
		return s * (1 - u)
	}
}

func maxf(a, b float32) float32 {
	if a > b {
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
