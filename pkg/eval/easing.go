package eval

import "math"

// evalEasingFunc evaluates the $easing.* functions over t in [0,1].
func evalEasingFunc(name string, args []float32, _ Env) (float32, bool) {
	if len(args) < 1 {
		return 0, false
	}
	return easingValue(name, args[0])
}

func easingValue(name string, t float32) (float32, bool) {
	x := float64(clampf(t, 0, 1))
	switch name {
	case "linear":
		return float32(x), true

	case "easeInQuad":
		return float32(x * x), true
	case "easeOutQuad":
		return float32(x * (2 - x)), true
	case "easeInOutQuad":
		if x < 0.5 {
			return float32(2 * x * x), true
		}
		return float32(-1 + (4-2*x)*x), true

	case "easeInCubic":
		return float32(x * x * x), true
	case "easeOutCubic":
		return float32(1 - math.Pow(1-x, 3)), true
	case "easeInOutCubic":
		if x < 0.5 {
			return float32(4 * x * x * x), true
		}
		return float32(1 - math.Pow(-2*x+2, 3)/2), true

	case "easeInQuart":
		return float32(math.Pow(x, 4)), true
	case "easeOutQuart":
		return float32(1 - math.Pow(1-x, 4)), true
	case "easeInOutQuart":
		if x < 0.5 {
			return float32(8 * math.Pow(x, 4)), true
		}
		return float32(1 - math.Pow(-2*x+2, 4)/2), true

	case "easeInExpo":
		if x <= 0 {
			return 0, true
		}
		return float32(math.Pow(2, 10*x-10)), true
	case "easeOutExpo":
		if x >= 1 {
			return 1, true
		}
		return float32(1 - math.Pow(2, -10*x)), true
	case "easeInOutExpo":
		switch {
		case x <= 0:
			return 0, true
		case x >= 1:
			return 1, true
		case x < 0.5:
			return float32(math.Pow(2, 20*x-10) / 2), true
		default:
			return float32((2 - math.Pow(2, -20*x+10)) / 2), true
		}

	case "easeInBack":
		const c = 1.70158
		return float32((c+1)*x*x*x - c*x*x), true
	case "easeOutBack":
		const c = 1.70158
		y := 1 - x
		return float32(1 - ((c+1)*y*y*y - c*y*y)), true
	case "easeInOutBack":
		const c1 = 1.70158
		const c2 = c1 * 1.525
		x2 := x * 2
		if x2 < 1 {
			return float32((x2 * x2 * ((c2+1)*x2 - c2)) / 2), true
		}
		x2 -= 2
		return float32((x2*x2*((c2+1)*x2+c2))/2 + 1), true

	case "easeInElastic":
		if x == 0 {
			return 0, true
		}
		if x == 1 {
			return 1, true
		}
		c := 2 * math.Pi / 3
		return float32(-math.Pow(2, 10*x-10) * math.Sin((x*10-10.75)*c)), true
	case "easeOutElastic":
		if x == 0 {
			return 0, true
		}
		if x == 1 {
			return 1, true
		}
		c := 2 * math.Pi / 3
		return float32(math.Pow(2, -10*x)*math.Sin((x*10-0.75)*c) + 1), true
	case "easeInOutElastic":
		if x == 0 {
			return 0, true
		}
		if x == 1 {
			return 1, true
		}
		c := 2 * math.Pi / 4.5
		if x < 0.5 {
			return float32(-math.Pow(2, 20*x-10) * math.Sin((20*x-11.125)*c) / 2), true
		}
		return float32(math.Pow(2, -20*x+10)*math.Sin((20*x-11.125)*c)/2 + 1), true

	case "easeInBounce":
		return float32(1 - bounceOut(1-x)), true
	case "easeOutBounce":
		return float32(bounceOut(x)), true
	case "easeInOutBounce":
		if x < 0.5 {
			return float32((1 - bounceOut(1-2*x)) / 2), true
		}
		return float32((1 + bounceOut(2*x-1)) / 2), true
	}
	return 0, false
}

func bounceOut(x float64) float64 {
	const n1 = 7.5625
	const d1 = 2.75
	switch {
	case x < 1/d1:
		return n1 * x * x
	case x < 2/d1:
		x -= 1.5 / d1
		return n1*x*x + 0.75
	case x < 2.5/d1:
		x -= 2.25 / d1
		return n1*x*x + 0.9375
	default:
		x -= 2.625 / d1
		return n1*x*x + 0.984375
	}
}
