package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// Load reads the Default-models configuration at path and returns a
// validated [Config]. The format is chosen by file extension: ".json" for
// JSON, ".yaml"/".yml" for YAML. Any other extension is decoded as JSON.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a JSON config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r, formatJSON)
	if err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAMLFromReader is [LoadFromReader]'s YAML-format counterpart, kept
// for deployments that prefer a YAML source document.
func LoadYAMLFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r, formatYAML)
	if err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

func formatFor(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

func decode(r io.Reader, format fileFormat) (*Config, error) {
	cfg := &Config{}
	switch format {
	case formatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	default:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values: a recognized
// schema version, well-formed and unique provider/model identifiers, and
// non-empty context lengths. It returns a joined error listing every
// validation failure found via errors.Join rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.SchemaVersion != CurrentSchemaVersion {
		errs = append(errs, fmt.Errorf("schemaVersion %d is not supported; want %d", cfg.SchemaVersion, CurrentSchemaVersion))
	}

	providerIDsSeen := make(map[string]int, len(cfg.Providers))
	modelIDsSeen := make(map[string]int)

	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := providerIDsSeen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of providers[%d]", prefix, p.ID, prev))
		} else {
			providerIDsSeen[p.ID] = i
		}

		if len(p.Models) == 0 {
			errs = append(errs, fmt.Errorf("%s.models must list at least one model", prefix))
		}

		for j, m := range p.Models {
			mprefix := fmt.Sprintf("%s.models[%d]", prefix, j)
			pluginID := p.ID
			if m.ProviderPlugin != "" {
				pluginID = m.ProviderPlugin
			}
			modelID := types.CreateModelID(pluginID, m.ID)
			if _, _, err := types.ParseModelID(modelID); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", mprefix, err))
			} else if prev, ok := modelIDsSeen[modelID]; ok {
				errs = append(errs, fmt.Errorf("%s: model id %q is a duplicate of an entry at index %d", mprefix, modelID, prev))
			} else {
				modelIDsSeen[modelID] = j
			}
			if m.ContextLength <= 0 {
				errs = append(errs, fmt.Errorf("%s.contextLength must be > 0", mprefix))
			}
		}
	}

	return errors.Join(errs...)
}
