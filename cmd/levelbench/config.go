package main

import (
	"encoding/json"
	"fmt"

	"github.com/efeslab/levelhash/pkg/fs"
	"github.com/efeslab/levelhash/pkg/levelhash"
	"github.com/tailscale/hujson"
)

// tableConfig mirrors levelhash.Options for JSONC config files, so a
// table's dimensions can be pinned in version control instead of typed
// out as flags every time.
type tableConfig struct {
	KeyLen    uint32 `json:"key_len"`
	ValueLen  uint32 `json:"value_len"`
	AssocNum  uint32 `json:"assoc_num,omitempty"`
	LevelSize uint32 `json:"level_size"`
	LogLength uint32 `json:"log_length,omitempty"`
}

func (c tableConfig) toOptions() levelhash.Options {
	return levelhash.Options{
		KeyLen:    c.KeyLen,
		ValueLen:  c.ValueLen,
		AssocNum:  c.AssocNum,
		LevelSize: c.LevelSize,
		LogLength: c.LogLength,
	}
}

// loadTableConfig reads a JSONC (hujson) config file describing a
// table's dimensions, matching the teacher's config-loading idiom
// (standardize then json.Unmarshal) but routed through the fs.FS
// abstraction rather than os directly, so the loader is swappable in
// tests without touching the real filesystem.
func loadTableConfig(fsys fs.FS, path string) (tableConfig, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return tableConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return tableConfig{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}
	var cfg tableConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return tableConfig{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return cfg, nil
}
