package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigBackend is persistent storage for non-secret keys. Values are the
// decoded JSON scalars (string, float64, bool); applyBackend converts them
// to each key's type.
type ConfigBackend interface {
	Lookup(key string) (any, bool)
	Set(key string, val any) error
}

// xdgDir resolves $<envVar>/persona, falling back to ~/<fallback>/persona
// and, without a home directory, to ./persona-data.
func xdgDir(envVar, fallback string) string {
	dir := os.Getenv(envVar)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "persona-data"
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "persona")
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

// jsonFile keeps config as one flat JSON object keyed by dotted config key:
//
//	{"server.port": 4100, "objects.backend": "s3", "reports.temperature": 0.5}
type jsonFile struct {
	path string
	data map[string]any
}

// openJSONFile reads path. A missing file is an empty config; a file that
// does not parse is an error, so a typo never silently reverts to defaults.
func openJSONFile(path string) (*jsonFile, error) {
	f := &jsonFile{path: path, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return f, nil
}

func (f *jsonFile) Lookup(key string) (any, bool) {
	v, ok := f.data[key]
	return v, ok && v != nil
}

// Set stores val and rewrites the file through a temp file and rename, so a
// server reading the config never sees a half-written file.
func (f *jsonFile) Set(key string, val any) error {
	f.data[key] = val

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
