// Package build ties the pipeline together: load the module graph,
// resolve it, fail on criticals, render audio and write the WAV, MIDI and
// AST artifacts.
package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/config"
	"github.com/opd-ai/devalang/pkg/diag"
	"github.com/opd-ai/devalang/pkg/engine"
	"github.com/opd-ai/devalang/pkg/interp"
	"github.com/opd-ai/devalang/pkg/loader"
	"github.com/opd-ai/devalang/pkg/registry"
	"github.com/opd-ai/devalang/pkg/resolver"
	"github.com/opd-ai/devalang/pkg/store"
)

// Result summarizes one build.
type Result struct {
	Engine   *engine.Engine
	Global   *store.GlobalStore
	MaxEnd   float32
	Cursor   float32
	Warnings []diag.Diagnostic
}

// Run compiles and renders the configured entry and writes artifacts
// under `<output>/audio` and `<output>/ast`.
func Run(cfg config.Config) (*Result, error) {
	reg := registry.New()
	g := store.NewGlobalStore()

	l := loader.New(cfg.Entry, cfg.Output, reg)
	if err := l.LoadAllModules(g); err != nil {
		return nil, err
	}

	resolver.Resolve(g)

	collector := diag.NewCollector()
	for path, module := range g.Modules {
		collector.CollectStatements(path, module.Statements)
	}
	collector.Report()
	if summary := collector.Summary(); summary != "" {
		return nil, fmt.Errorf("compilation failed: %s", summary)
	}

	entryModule, ok := g.Module(cfg.Entry)
	if !ok {
		return nil, fmt.Errorf("entry module %s missing after load", cfg.Entry)
	}

	eng := engine.New(store.NormalizePath(cfg.Entry), reg)
	if cfg.SampleRate > 0 {
		eng.SampleRate = cfg.SampleRate
	}
	eng.SetRootDir(filepath.Dir(cfg.Entry))

	it := interp.New(g)
	maxEnd, cursor := it.Run(entryModule.Statements, eng)
	eng.SetDuration(maxEnd)

	if err := writeArtifacts(cfg, eng, g); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"system_name": "build",
		"entry":       cfg.Entry,
		"max_end":     maxEnd,
		"notes":       eng.NoteCount,
	}).Info("render complete")

	return &Result{
		Engine:   eng,
		Global:   g,
		MaxEnd:   maxEnd,
		Cursor:   cursor,
		Warnings: collector.Warnings(),
	}, nil
}

func writeArtifacts(cfg config.Config, eng *engine.Engine, g *store.GlobalStore) error {
	audioDir := filepath.Join(cfg.Output, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if err := eng.WriteWAV(filepath.Join(audioDir, "index.wav"), cfg.AudioFormat); err != nil {
		return err
	}

	if cfg.MidiExport {
		if err := eng.WriteMIDI(filepath.Join(audioDir, "index.mid"), interp.DefaultBPM, engine.DefaultPPQ); err != nil {
			return err
		}
	}

	return writeASTArtifacts(cfg.Output, g)
}

// writeASTArtifacts pretty-prints each module's statements as JSON under
// <output>/ast.
func writeASTArtifacts(outputDir string, g *store.GlobalStore) error {
	astDir := filepath.Join(outputDir, "ast")
	if err := os.MkdirAll(astDir, 0o755); err != nil {
		return fmt.Errorf("create ast directory: %w", err)
	}

	for path, module := range g.Modules {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		data, err := json.MarshalIndent(module.Statements, "", "  ")
		if err != nil {
			return fmt.Errorf("serialize ast for %s: %w", path, err)
		}
		target := filepath.Join(astDir, name+".json")
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}
