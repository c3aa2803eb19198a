package eval

import (
	"math"
	"testing"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/rng"
	"github.com/opd-ai/devalang/pkg/store"
)

func testEnv() Env {
	vars := store.NewVariableTable()
	vars.Set("x", ast.Number(3))
	vars.Set("name", ast.String("lead"))
	return Env{Vars: vars, BPM: 120, Beat: 2}
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestNumericArithmetic(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float32
	}{
		{"literal", "5", 5},
		{"negative literal", "-5", -5},
		{"addition", "1 + 2", 3},
		{"left to right no precedence", "2 + 3 * 4", 20},
		{"parentheses", "2 + (3 * 4)", 14},
		{"variable", "x + 1", 4},
		{"env bpm", "$env.bpm / 2", 60},
		{"env beat", "$env.beat", 2},
		{"env position alias", "$env.position", 2},
		{"division", "10 / 4", 2.5},
		{"subtraction chain", "10 - 2 - 3", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Numeric(tt.expr, testEnv())
			if !ok {
				t.Fatalf("Numeric(%q) failed", tt.expr)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("Numeric(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestNumericDivisionByZero(t *testing.T) {
	got, ok := Numeric("1 / 0", testEnv())
	if !ok {
		t.Fatal("division by zero must still produce a value")
	}
	if !math.IsInf(float64(got), 1) {
		t.Errorf("1/0 = %v, want +Inf sentinel", got)
	}
}

func TestNumericUnresolvable(t *testing.T) {
	if _, ok := Numeric("nosuchvar + 1", testEnv()); ok {
		t.Error("unresolvable atom must fail")
	}
}

func TestMathFunctions(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float32
	}{
		{"sin", "$math.sin(0)", 0},
		{"cos", "$math.cos(0)", 1},
		{"lerp", "$math.lerp(0, 10, 0.5)", 5},
		{"lerp in arithmetic", "1 + $math.lerp(0, 4, 0.5)", 3},
		{"nested call", "$math.sin($math.cos(0) - 1)", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Numeric(tt.expr, testEnv())
			if !ok {
				t.Fatalf("Numeric(%q) failed", tt.expr)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("Numeric(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestMathRandomDeterministic(t *testing.T) {
	a, ok := Numeric("$math.random(0.25)", testEnv())
	if !ok {
		t.Fatal("random with seed failed")
	}
	b, _ := Numeric("$math.random(0.25)", testEnv())
	if a != b {
		t.Errorf("seeded random must be stable: %v != %v", a, b)
	}
	if a < -1 || a > 1 {
		t.Errorf("random out of range: %v", a)
	}

	// The fractional-sine recipe is pinned, not any platform RNG.
	x := math.Sin(0.25*12.9898) * 43758.547
	frac := x - math.Floor(x)
	want := float32(frac*2 - 1)
	if !almostEqual(a, want) {
		t.Errorf("random(0.25) = %v, want %v from the sin-fract recipe", a, want)
	}
}

func TestEasingFunctions(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float32
	}{
		{"linear", "$easing.linear(0.5)", 0.5},
		{"easeInQuad", "$easing.easeInQuad(0.5)", 0.25},
		{"easeOutQuad", "$easing.easeOutQuad(0.5)", 0.75},
		{"easeInCubic", "$easing.easeInCubic(0.5)", 0.125},
		{"easeOutBounce at 1", "$easing.easeOutBounce(1)", 1},
		{"easeInExpo at 0", "$easing.easeInExpo(0)", 0},
		{"clamps above 1", "$easing.linear(2)", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Numeric(tt.expr, testEnv())
			if !ok {
				t.Fatalf("Numeric(%q) failed", tt.expr)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("Numeric(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEasingEndpoints(t *testing.T) {
	// Every easing function maps 0 to ~0 and 1 to ~1 except the
	// oscillating families, which still hit the endpoints exactly.
	funcs := []string{
		"linear", "easeInQuad", "easeOutQuad", "easeInOutQuad",
		"easeInCubic", "easeOutCubic", "easeInOutCubic",
		"easeInQuart", "easeOutQuart", "easeInOutQuart",
		"easeInExpo", "easeOutExpo", "easeInOutExpo",
		"easeInElastic", "easeOutElastic", "easeInOutElastic",
		"easeInBounce", "easeOutBounce", "easeInOutBounce",
	}
	for _, fn := range funcs {
		t.Run(fn, func(t *testing.T) {
			at0, ok := easingValue(fn, 0)
			if !ok {
				t.Fatalf("unknown easing %q", fn)
			}
			at1, _ := easingValue(fn, 1)
			if !almostEqual(at0, 0) {
				t.Errorf("%s(0) = %v, want 0", fn, at0)
			}
			if !almostEqual(at1, 1) {
				t.Errorf("%s(1) = %v, want 1", fn, at1)
			}
		})
	}
}

func TestModulators(t *testing.T) {
	env := testEnv() // beat = 2

	t.Run("lfo sine at integer beats", func(t *testing.T) {
		got, ok := Numeric("$mod.lfo.sine(1)", env)
		if !ok {
			t.Fatal("lfo.sine failed")
		}
		if !almostEqual(got, 0) {
			t.Errorf("sine LFO at beat 2 rate 1 = %v, want 0", got)
		}
	})

	t.Run("lfo triangle", func(t *testing.T) {
		got, ok := Numeric("$mod.lfo.tri(1)", env)
		if !ok {
			t.Fatal("lfo.tri failed")
		}
		if got < -1 || got > 1 {
			t.Errorf("triangle LFO out of range: %v", got)
		}
	})

	t.Run("envelope decay midpoint", func(t *testing.T) {
		// Equal thirds: t=0.5 falls halfway through the decay phase,
		// between peak 1 and sustain 0.5.
		got, ok := Numeric("$mod.envelope(1, 1, 0.5, 1, 0.5)", env)
		if !ok {
			t.Fatal("envelope failed")
		}
		if !almostEqual(got, 0.75) {
			t.Errorf("envelope mid = %v, want 0.75", got)
		}
	})

	t.Run("envelope endpoints", func(t *testing.T) {
		at0, _ := Numeric("$mod.envelope(1, 1, 0.5, 1, 0)", env)
		at1, _ := Numeric("$mod.envelope(1, 1, 0.5, 1, 1)", env)
		if !almostEqual(at0, 0) {
			t.Errorf("envelope(0) = %v, want 0", at0)
		}
		if !almostEqual(at1, 0) {
			t.Errorf("envelope(1) = %v, want 0", at1)
		}
	})
}

func TestConditions(t *testing.T) {
	env := testEnv() // x = 3
	tests := []struct {
		expr string
		want bool
	}{
		{"x > 2", true},
		{"x < 2", false},
		{"x >= 3", true},
		{"x <= 2", false},
		{"x == 3", true},
		{"x != 3", false},
		{"x != 4", true},
		{"2 < x", true},
		{"$env.bpm == 120", true},
		{"x >", false},       // malformed
		{"y > 2", false},     // unresolvable
		{"x ~ 2", false},     // unknown operator
		{"1 2 3 4", false},   // wrong arity
		{"0.1 == 0.1", true}, // epsilon equality
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := Condition(tt.expr, env); got != tt.want {
				t.Errorf("Condition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestStringConcat(t *testing.T) {
	env := testEnv()
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"literal and number", `"x is " + x`, "x is 3"},
		{"variable string", `"hi " + name`, "hi lead"},
		{"env atom", `"bpm " + $env.bpm`, "bpm 120"},
		{"plus inside quotes", `"a + b" + x`, "a + b3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StringConcat(tt.expr, env)
			if !ok {
				t.Fatalf("StringConcat(%q) failed", tt.expr)
			}
			if got != tt.want {
				t.Errorf("StringConcat(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}

	if _, ok := StringConcat("no plus here", env); ok {
		t.Error("expression without + must be rejected")
	}
}

func TestResolve(t *testing.T) {
	env := testEnv()

	v := Resolve("1 + 2", env)
	if v.Kind != ast.NumberValue || v.Num != 3 {
		t.Errorf("Resolve numeric = %+v, want Number(3)", v)
	}

	v = Resolve(`"a" + x`, env)
	if v.Kind != ast.StringValue || v.Str != "a3" {
		t.Errorf("Resolve concat = %+v, want String(a3)", v)
	}
}

func TestEnvSeedStable(t *testing.T) {
	rng.SetSessionSeed(0.42)
	a, ok := Numeric("$env.seed", testEnv())
	if !ok {
		t.Fatal("$env.seed failed")
	}
	b, _ := Numeric("$env.seed", testEnv())
	if a != b || a != 0.42 {
		t.Errorf("session seed unstable: %v, %v", a, b)
	}
}
