// Command devalang compiles a .deva program into WAV, MIDI and AST
// artifacts.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/build"
	"github.com/opd-ai/devalang/pkg/config"
)

func main() {
	entry := flag.String("entry", "", "entry .deva file (overrides config)")
	output := flag.String("output", "", "output directory (overrides config)")
	format := flag.String("format", "", "audio format: wav16, wav24 or wav32")
	midi := flag.Bool("midi", true, "write a MIDI artifact alongside the WAV")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	dir := "."
	if *entry != "" {
		dir = filepath.Dir(*entry)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load project configuration")
	}

	if *entry != "" {
		cfg.Entry = *entry
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *format != "" {
		cfg.AudioFormat = *format
	}
	cfg.MidiExport = *midi

	result, err := build.Run(cfg)
	if err != nil {
		logrus.WithError(err).Error("build failed")
		os.Exit(1)
	}

	logrus.WithFields(logrus.Fields{
		"duration_secs": result.MaxEnd,
		"warnings":      len(result.Warnings),
		"output":        cfg.Output,
	}).Info("build succeeded")
}
