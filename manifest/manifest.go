// Package manifest handles replay.toml build configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/replay/recorder"
)

// Manifest represents a replay.toml configuration.
type Manifest struct {
	Recording Recording `toml:"recording"`
	Cache     Cache     `toml:"cache"`
	Output    Output    `toml:"output"`

	// Dir is the directory containing the replay.toml file (set at load time).
	Dir string `toml:"-"`
}

// Recording configures the recorder itself.
type Recording struct {
	// BasePackage prefixes generated program names.
	BasePackage string `toml:"base-package"`
	// ValueEquality switches argument deduplication from identity to
	// value equality.
	ValueEquality bool `toml:"value-equality"`
}

// Cache configures the program cache.
type Cache struct {
	Path string `toml:"path"`
}

// Output configures emission artifacts.
type Output struct {
	// GoSource enables rendering emitted programs as Go files.
	GoSource bool `toml:"go-source"`
	// Package names the package of rendered Go files.
	Package string `toml:"package"`
}

// Default returns the configuration used when no replay.toml exists.
func Default() *Manifest {
	return &Manifest{
		Cache:  Cache{Path: "replay-cache.db"},
		Output: Output{Package: "recorded"},
	}
}

// Load parses a replay.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "replay.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Dir = dir
	return m, nil
}

// Options translates the manifest into recorder options.
func (m *Manifest) Options() []recorder.Option {
	var opts []recorder.Option
	if m.Recording.BasePackage != "" {
		opts = append(opts, recorder.WithBasePackage(m.Recording.BasePackage))
	}
	if m.Recording.ValueEquality {
		opts = append(opts, recorder.WithValueEquality())
	}
	return opts
}

// CachePath resolves the cache path relative to the manifest directory.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" || filepath.IsAbs(m.Cache.Path) || m.Dir == "" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}
