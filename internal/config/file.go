package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto base. Keys absent from the
// file keep their value from base; unknown keys are rejected.
func LoadFile(path string, base AppConfig) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, base)
}

// Parse overlays a YAML document onto base.
func Parse(data []byte, base AppConfig) (AppConfig, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return base, nil // empty document
		}
		return base, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML (used by the config endpoint and for writing a
// starter file).
func Marshal(cfg AppConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
