// Package bank reads bank.toml manifests describing sample collections.
package bank

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Manifest is the parsed shape of a bank.toml file.
type Manifest struct {
	Bank     Info      `toml:"bank"`
	Triggers []Trigger `toml:"triggers"`
}

// Info is the [bank] table of a manifest.
type Info struct {
	Name        string `toml:"name"`
	Publisher   string `toml:"publisher"`
	AudioPath   string `toml:"audio_path"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

// Trigger is one [[triggers]] entry: a named sample file.
type Trigger struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Metadata is the loaded, path-resolved form of a bank used by the sample
// registry for lazy loading.
type Metadata struct {
	BankID    string
	BankPath  string
	AudioPath string
	Triggers  map[string]string
}

// ParseManifest decodes a bank.toml document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse bank manifest: %w", err)
	}
	return &m, nil
}

// LoadMetadata reads `<dir>/bank.toml` and builds the bank metadata. The
// bank ID is `<publisher>.<name>`; an absent audio_path defaults to
// "audio".
func LoadMetadata(dir string) (*Metadata, error) {
	manifestPath := filepath.Join(dir, "bank.toml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifestPath, err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	audioPath := m.Bank.AudioPath
	if audioPath == "" {
		audioPath = "audio"
	}

	meta := &Metadata{
		BankID:    m.Bank.Publisher + "." + m.Bank.Name,
		BankPath:  dir,
		AudioPath: audioPath,
		Triggers:  make(map[string]string, len(m.Triggers)),
	}
	for _, t := range m.Triggers {
		clean := strings.TrimPrefix(strings.ReplaceAll(t.Path, "\\", "/"), "./")
		meta.Triggers[t.Name] = clean
	}
	return meta, nil
}

// SampleURI builds the devalang:// URI of a trigger in this bank.
func (m *Metadata) SampleURI(entity string) string {
	return "devalang://bank/" + m.BankID + "/" + entity
}

// FindManifestDir locates a bank directory under the addon root, trying
// the flat layout `<root>/banks/<name>` and, for dotted names, the nested
// `<root>/banks/<publisher>/<name>` layout.
func FindManifestDir(devaDir, name string) (string, bool) {
	for _, sub := range []string{"banks", "bank"} {
		flat := filepath.Join(devaDir, sub, name)
		if fileExists(filepath.Join(flat, "bank.toml")) {
			return flat, true
		}
		if publisher, bankName, ok := strings.Cut(name, "."); ok {
			nested := filepath.Join(devaDir, sub, publisher, bankName)
			if fileExists(filepath.Join(nested, "bank.toml")) {
				return nested, true
			}
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
