// Package config carries the pipeline's configuration knobs (spec §6) and
// loads them from TOML, the pack's configuration-file format of choice.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config mirrors every knob in spec §6's configuration table.
type Config struct {
	HTMLevel    int  `toml:"htm_level"`
	SortTrixels bool `toml:"sort_trixels"`
	Append      bool `toml:"append"`

	AutoDeleteChunks bool `toml:"auto_delete_chunks"`
	BufferLimit      int  `toml:"buffer_limit"` // 0 means "25 * num_trixels", resolved by the caller

	ProperMotionDuplicates float64 `toml:"proper_motion_duplicates"`
	ProperMotionThreshold  float64 `toml:"proper_motion_threshold"`

	SearchRadiusArcsec float64 `toml:"search_radius_arcsec"`
	TieToleranceDeg    float64 `toml:"tie_tolerance_deg"`
}

// Default returns the configuration with every spec §6 default applied,
// except htm_level, which the spec marks "required".
func Default() Config {
	return Config{
		SortTrixels:            true,
		Append:                 false,
		AutoDeleteChunks:       true,
		BufferLimit:            0,
		ProperMotionDuplicates: 10000,
		ProperMotionThreshold:  0.1,
		SearchRadiusArcsec:     100,
		TieToleranceDeg:        1e-5,
	}
}

// NumTrixels returns 8·4^HTMLevel, the container's declared trixel count.
func (c Config) NumTrixels() uint32 {
	n := uint32(8)
	for i := 0; i < c.HTMLevel; i++ {
		n *= 4
	}
	return n
}

// ResolvedBufferLimit returns BufferLimit if set, else the spec default of
// 25*num_trixels.
func (c Config) ResolvedBufferLimit() int {
	if c.BufferLimit > 0 {
		return c.BufferLimit
	}
	return 25 * int(c.NumTrixels())
}

// Load reads a TOML file at path into a Config seeded with Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}
