// Package config loads the project configuration consumed by the build
// pipeline from a `.devalang` TOML file.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the project-level settings of a build.
type Config struct {
	Entry       string `mapstructure:"entry"`
	Output      string `mapstructure:"output"`
	SampleRate  int    `mapstructure:"sampleRate"`
	AudioFormat string `mapstructure:"audioFormat"`
	MidiExport  bool   `mapstructure:"midiExport"`
	// Banks and Plugins pre-declare addons to register before compiling,
	// in addition to those the source references.
	Banks   []string `mapstructure:"banks"`
	Plugins []string `mapstructure:"plugins"`
}

// Load reads `.devalang` from the given directory (falling back to the
// working directory), returning defaults when no file exists. Environment
// variables are not consulted.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	// The project file has no extension, so the path is set explicitly.
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, ".devalang")
	hasFile := false
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
		hasFile = true
	}

	v.SetDefault("entry", "index.deva")
	v.SetDefault("output", "output")
	v.SetDefault("sampleRate", 44100)
	v.SetDefault("audioFormat", "wav16")
	v.SetDefault("midiExport", true)
	v.SetDefault("banks", []string{})
	v.SetDefault("plugins", []string{})

	if hasFile {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
