package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Entry != "index.deva" {
		t.Errorf("entry = %q, want index.deva", cfg.Entry)
	}
	if cfg.Output != "output" {
		t.Errorf("output = %q, want output", cfg.Output)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.AudioFormat != "wav16" {
		t.Errorf("audio format = %q, want wav16", cfg.AudioFormat)
	}
	if !cfg.MidiExport {
		t.Error("midi export must default on")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `entry = "song.deva"
output = "dist"
sampleRate = 48000
audioFormat = "wav24"
midiExport = false
banks = ["devaloop.808"]
`
	if err := os.WriteFile(filepath.Join(dir, ".devalang"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Entry != "song.deva" || cfg.Output != "dist" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SampleRate != 48000 || cfg.AudioFormat != "wav24" {
		t.Errorf("audio settings = %d/%q", cfg.SampleRate, cfg.AudioFormat)
	}
	if cfg.MidiExport {
		t.Error("midi export must be off")
	}
	if len(cfg.Banks) != 1 || cfg.Banks[0] != "devaloop.808" {
		t.Errorf("banks = %v", cfg.Banks)
	}
}
