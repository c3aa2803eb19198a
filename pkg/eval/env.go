// Package eval implements the mini-expression language used in let
// right-hand sides and parameter slots: $env, $math, $easing and $mod
// atoms combined with left-to-right arithmetic.
package eval

import (
	"strconv"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/rng"
	"github.com/opd-ai/devalang/pkg/store"
)

// Env carries the ambient values an expression can reference.
type Env struct {
	Vars *store.VariableTable
	BPM  float32
	Beat float32
}

// resolveEnvAtom resolves the $env.* atoms. $env.position is an alias of
// the beat position.
func (e Env) resolveEnvAtom(atom string) (float32, bool) {
	switch atom {
	case "$env.bpm":
		return e.BPM, true
	case "$env.beat", "$env.position":
		return e.Beat, true
	case "$env.seed":
		return rng.SessionSeed(), true
	}
	return 0, false
}

// resolveAtom resolves an env atom, a numeric literal or a variable bound
// to a number.
func (e Env) resolveAtom(atom string) (float32, bool) {
	if v, ok := e.resolveEnvAtom(atom); ok {
		return v, true
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(atom), 32); err == nil {
		return float32(f), true
	}
	if e.Vars != nil {
		if v, ok := e.Vars.Get(atom); ok && v.Kind == ast.NumberValue {
			return v.Num, true
		}
	}
	return 0, false
}
