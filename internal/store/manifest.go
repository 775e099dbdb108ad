package store

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename is the default manifest filename
	ManifestFilename = "manifest.json"
)

// Manifest records which index generation is live and how it was built.
type Manifest struct {
	Version     int            `json:"version"`
	Generation  uint64         `json:"generation"`
	Fingerprint string         `json:"fingerprint"`
	BuiltAt     time.Time      `json:"built_at"`
	Documents   int            `json:"documents"`
	Warnings    map[string]int `json:"warnings,omitempty"`
	mu          sync.RWMutex   `json:"-"`
}

// ManifestState is a copy of the manifest fields.
type ManifestState struct {
	Generation  uint64
	Fingerprint string
	BuiltAt     time.Time
	Documents   int
	Warnings    map[string]int
}

// NewManifest creates a new empty manifest.
func NewManifest() *Manifest {
	return &Manifest{Version: ManifestVersion}
}

// LoadManifest reads a manifest from disk, or creates a new one if it doesn't exist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	return &manifest, nil
}

// Save writes the manifest to disk atomically.
// Uses write-to-temp + rename pattern to prevent corruption.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}
	return nil
}

// State returns a snapshot of the manifest.
func (m *Manifest) State() ManifestState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManifestState{
		Generation:  m.Generation,
		Fingerprint: m.Fingerprint,
		BuiltAt:     m.BuiltAt,
		Documents:   m.Documents,
		Warnings:    maps.Clone(m.Warnings),
	}
}

// Update replaces the manifest fields with state.
func (m *Manifest) Update(state ManifestState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Generation = state.Generation
	m.Fingerprint = state.Fingerprint
	m.BuiltAt = state.BuiltAt
	m.Documents = state.Documents
	m.Warnings = maps.Clone(state.Warnings)
}
