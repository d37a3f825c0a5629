package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MaxIncludeDepth bounds how many levels of include directives a config
// file chain may have.
const MaxIncludeDepth = 16

// Load reads a YAML config file, resolves its include chain, applies the
// result over the defaults and validates it. A missing path loads the
// plain defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := loadYAML(path, 0)
		if err != nil {
			return nil, err
		}
		// Round-trip the merged tree through the YAML decoder so the
		// file only needs to name the settings it changes.
		merged, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("reassembling config: %w", err)
		}
		if err := yaml.Unmarshal(merged, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML reads one file of the include chain into a raw map. The
// include directive names a file whose settings this one overrides;
// includes resolve relative to the directory of the including file.
func loadYAML(path string, depth int) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	include, ok := raw["include"]
	if !ok {
		return raw, nil
	}
	if depth >= MaxIncludeDepth {
		return nil, fmt.Errorf("%s: config files can't be included more than %d levels deep", path, MaxIncludeDepth)
	}
	delete(raw, "include")
	includePath, ok := include.(string)
	if !ok {
		return nil, fmt.Errorf("%s: include must be a file name", path)
	}
	if !filepath.IsAbs(includePath) {
		includePath = filepath.Join(filepath.Dir(path), includePath)
	}
	base, err := loadYAML(includePath, depth+1)
	if err != nil {
		return nil, err
	}
	return mergeMaps(base, raw, "")
}

// mergeMaps recursively merges override into base. Nested maps merge
// key by key; everything else, lists included, is overwritten.
func mergeMaps(base, override map[string]any, path string) (map[string]any, error) {
	for key, oval := range override {
		keyPath := key
		if path != "" {
			keyPath = path + "." + key
		}
		omap, ok := oval.(map[string]any)
		if !ok {
			base[key] = oval
			continue
		}
		bval, exists := base[key]
		if !exists {
			base[key] = omap
			continue
		}
		bmap, ok := bval.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("can't merge section %s into a plain value from included file", keyPath)
		}
		merged, err := mergeMaps(bmap, omap, keyPath)
		if err != nil {
			return nil, err
		}
		base[key] = merged
	}
	return base, nil
}
