// Package registry caches decoded sample data keyed by devalang:// URIs
// and falls back to deterministic synthetic drums when a bank sample is
// missing.
package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/bank"
)

// bankURIPrefix is the scheme prefix of bank sample URIs.
const bankURIPrefix = "devalang://bank/"

// SampleData is decoded mono PCM normalized to [-1,1] at its source rate.
type SampleData struct {
	Samples    []float32
	SampleRate int
}

// Registry is a lazy sample cache. The mutex guards the maps only; it is
// never held across decoding.
type Registry struct {
	mu      sync.Mutex
	samples map[string]SampleData
	banks   map[string]*bank.Metadata
	loaded  map[string]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		samples: make(map[string]SampleData),
		banks:   make(map[string]*bank.Metadata),
		loaded:  make(map[string]bool),
	}
}

// RegisterSample stores decoded data under a URI.
func (r *Registry) RegisterSample(uri string, data SampleData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[uri] = data
	r.loaded[uri] = true
}

// RegisterBank stores bank metadata for lazy loading.
func (r *Registry) RegisterBank(meta *bank.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banks[meta.BankID] = meta
}

// HasBank reports whether a bank ID is registered.
func (r *Registry) HasBank(bankID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.banks[bankID]
	return ok
}

// LoadBankFromDirectory parses `<dir>/bank.toml` and registers the bank's
// metadata. Samples load on first use.
func (r *Registry) LoadBankFromDirectory(dir string) (string, error) {
	meta, err := bank.LoadMetadata(dir)
	if err != nil {
		return "", err
	}
	r.RegisterBank(meta)
	return meta.BankID, nil
}

// RegisterSampleFromPath decodes an audio file and registers it under its
// absolute path, returning the URI used.
func (r *Registry) RegisterSampleFromPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	data, err := decodeAudioFile(abs)
	if err != nil {
		return "", err
	}
	uri := filepath.ToSlash(abs)
	r.RegisterSample(uri, data)
	return uri, nil
}

// Get returns the sample for a URI, lazily decoding it from its bank on
// first use. Unresolvable bank URIs whose trailing segment names a known
// drum type produce a deterministic synthetic sample.
func (r *Registry) Get(uri string) (SampleData, bool) {
	r.mu.Lock()
	if data, ok := r.samples[uri]; ok {
		r.mu.Unlock()
		return data, true
	}
	attempted := r.loaded[uri]
	r.mu.Unlock()

	if !attempted {
		if data, ok := r.lazyLoad(uri); ok {
			r.mu.Lock()
			r.samples[uri] = data
			r.loaded[uri] = true
			r.mu.Unlock()
			return data, true
		}
		r.mu.Lock()
		r.loaded[uri] = false
		r.mu.Unlock()
	}

	if data, ok := syntheticSample(uri); ok {
		r.mu.Lock()
		r.samples[uri] = data
		r.mu.Unlock()
		return data, true
	}
	return SampleData{}, false
}

// Stats returns (banks, declared triggers, decoded samples).
func (r *Registry) Stats() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	declared := 0
	for _, b := range r.banks {
		declared += len(b.Triggers)
	}
	return len(r.banks), declared, len(r.samples)
}

// lazyLoad resolves a devalang://bank/<bank_id>/<entity> URI against the
// registered bank metadata and decodes the file.
func (r *Registry) lazyLoad(uri string) (SampleData, bool) {
	bankID, entity, ok := SplitBankURI(uri)
	if !ok {
		return SampleData{}, false
	}

	r.mu.Lock()
	meta, ok := r.banks[bankID]
	r.mu.Unlock()
	if !ok {
		return SampleData{}, false
	}

	// The entity may be a declared trigger name or a direct relative path.
	rel := entity
	if mapped, ok := meta.Triggers[entity]; ok {
		rel = mapped
	}

	candidates := []string{
		filepath.Join(meta.BankPath, meta.AudioPath, filepath.FromSlash(rel)),
	}
	if filepath.Ext(rel) == "" {
		candidates = append(candidates,
			filepath.Join(meta.BankPath, meta.AudioPath, rel+".wav"),
			// Legacy layout: samples directly under the bank root.
			filepath.Join(meta.BankPath, rel+".wav"),
		)
	} else {
		candidates = append(candidates, filepath.Join(meta.BankPath, filepath.FromSlash(rel)))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := decodeAudioFile(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "registry",
				"uri":         uri,
				"path":        path,
			}).WithError(err).Warn("failed to decode bank sample")
			continue
		}
		return data, true
	}
	return SampleData{}, false
}

// SplitBankURI parses devalang://bank/<bank_id>/<entity...>.
func SplitBankURI(uri string) (bankID, entity string, ok bool) {
	if !strings.HasPrefix(uri, bankURIPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, bankURIPrefix)
	bankID, entity, found := strings.Cut(rest, "/")
	if !found || bankID == "" || entity == "" {
		return "", "", false
	}
	return bankID, entity, true
}

// IsBankURI reports whether a string is a bank sample URI.
func IsBankURI(uri string) bool {
	return strings.HasPrefix(uri, bankURIPrefix)
}
