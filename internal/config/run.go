package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/mcgrid/internal/grid"
	"github.com/banshee-data/mcgrid/internal/monitoring"
)

// DefaultConfigPath is the path to the canonical run defaults file.
const DefaultConfigPath = "config/mcgrid.defaults.json"

// RunConfig describes one integration run: the grid's domain and budget,
// the sampling schedule and where snapshots go. Every field is optional;
// the Get* methods supply defaults for missing ones.
type RunConfig struct {
	// Grid params
	Dimension *int      `json:"dimension,omitempty"`
	Lower     []float64 `json:"lower,omitempty"`
	Upper     []float64 `json:"upper,omitempty"`
	Mode      *string   `json:"mode,omitempty"`
	MaxLeaves *int      `json:"max_leaves,omitempty"`

	// Sampling schedule
	SamplesPerIteration *int    `json:"samples_per_iteration,omitempty"`
	Iterations          *int    `json:"iterations,omitempty"`
	AdaptEvery          *int    `json:"adapt_every,omitempty"`
	Seed                *uint64 `json:"seed,omitempty"`
	Integrand           *string `json:"integrand,omitempty"`

	// Snapshot params; 0 disables periodic snapshots, the final one is
	// always written when a store is configured.
	SnapshotEvery *int `json:"snapshot_every,omitempty"`

	// Optional one-dimensional restriction. Both must be set together.
	SubGridLower *float64 `json:"subgrid_lower,omitempty"`
	SubGridUpper *float64 `json:"subgrid_upper,omitempty"`

	LogLevel *string `json:"log_level,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a JSON file. The file must have a
// .json extension and be under 1MB. Fields omitted from the file fall back
// to their defaults, so partial configs are safe.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/mcgrid/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *RunConfig) Validate() error {
	if c.Dimension != nil && (*c.Dimension < 1 || *c.Dimension > 64) {
		return fmt.Errorf("dimension must be between 1 and 64, got %d", *c.Dimension)
	}
	dim := c.GetDimension()
	if c.Lower != nil && len(c.Lower) != dim {
		return fmt.Errorf("lower has %d entries, dimension is %d", len(c.Lower), dim)
	}
	if c.Upper != nil && len(c.Upper) != dim {
		return fmt.Errorf("upper has %d entries, dimension is %d", len(c.Upper), dim)
	}
	if c.Mode != nil {
		if _, err := grid.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.MaxLeaves != nil && *c.MaxLeaves < 1 {
		return fmt.Errorf("max_leaves must be at least 1, got %d", *c.MaxLeaves)
	}
	if c.SamplesPerIteration != nil && *c.SamplesPerIteration < 1 {
		return fmt.Errorf("samples_per_iteration must be at least 1, got %d", *c.SamplesPerIteration)
	}
	if c.Iterations != nil && *c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", *c.Iterations)
	}
	if c.AdaptEvery != nil && *c.AdaptEvery < 1 {
		return fmt.Errorf("adapt_every must be at least 1, got %d", *c.AdaptEvery)
	}
	if c.SnapshotEvery != nil && *c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot_every must be non-negative, got %d", *c.SnapshotEvery)
	}
	if (c.SubGridLower == nil) != (c.SubGridUpper == nil) {
		return fmt.Errorf("subgrid_lower and subgrid_upper must be set together")
	}
	if c.SubGridLower != nil {
		if dim != 1 {
			return fmt.Errorf("subgrid bounds need dimension 1, got %d", dim)
		}
		if !(*c.SubGridLower < *c.SubGridUpper) {
			return fmt.Errorf("subgrid_lower %g must be below subgrid_upper %g", *c.SubGridLower, *c.SubGridUpper)
		}
	}
	if c.LogLevel != nil {
		if _, ok := monitoring.ParseLevel(*c.LogLevel); !ok {
			return fmt.Errorf("unknown log_level %q", *c.LogLevel)
		}
	}
	if _, err := c.GridConfig(); err != nil {
		return err
	}
	return nil
}

// GridConfig resolves the grid parameters, defaults included.
func (c *RunConfig) GridConfig() (grid.Config, error) {
	mode, err := grid.ParseMode(c.GetMode())
	if err != nil {
		return grid.Config{}, err
	}
	cfg := grid.Config{
		Lower:     c.GetLower(),
		Upper:     c.GetUpper(),
		Mode:      mode,
		MaxLeaves: c.GetMaxLeaves(),
	}
	if err := cfg.Validate(); err != nil {
		return grid.Config{}, err
	}
	return cfg, nil
}

// GetDimension returns the dimension, inferred from lower when unset.
func (c *RunConfig) GetDimension() int {
	if c.Dimension != nil {
		return *c.Dimension
	}
	if len(c.Lower) > 0 {
		return len(c.Lower)
	}
	return 1
}

// GetLower returns the lower domain bounds or the unit cube's.
func (c *RunConfig) GetLower() []float64 {
	if c.Lower != nil {
		return append([]float64(nil), c.Lower...)
	}
	return make([]float64, c.GetDimension())
}

// GetUpper returns the upper domain bounds or the unit cube's.
func (c *RunConfig) GetUpper() []float64 {
	if c.Upper != nil {
		return append([]float64(nil), c.Upper...)
	}
	out := make([]float64, c.GetDimension())
	for i := range out {
		out[i] = 1
	}
	return out
}

// GetMode returns the mode name or the default.
func (c *RunConfig) GetMode() string {
	if c.Mode == nil {
		return grid.ModeCumulant.String()
	}
	return *c.Mode
}

// GetMaxLeaves returns the max_leaves value or the default.
func (c *RunConfig) GetMaxLeaves() int {
	if c.MaxLeaves == nil {
		return 64
	}
	return *c.MaxLeaves
}

// GetSamplesPerIteration returns the samples_per_iteration value or the default.
func (c *RunConfig) GetSamplesPerIteration() int {
	if c.SamplesPerIteration == nil {
		return 10000
	}
	return *c.SamplesPerIteration
}

// GetIterations returns the iterations value or the default.
func (c *RunConfig) GetIterations() int {
	if c.Iterations == nil {
		return 10
	}
	return *c.Iterations
}

// GetAdaptEvery returns the adapt_every value or the default.
func (c *RunConfig) GetAdaptEvery() int {
	if c.AdaptEvery == nil {
		return 100
	}
	return *c.AdaptEvery
}

// GetSeed returns the seed value or 0, which seeds from the clock.
func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetIntegrand returns the integrand name or the default.
func (c *RunConfig) GetIntegrand() string {
	if c.Integrand == nil {
		return "gaussian"
	}
	return *c.Integrand
}

// GetSnapshotEvery returns the snapshot_every value or the default.
func (c *RunConfig) GetSnapshotEvery() int {
	if c.SnapshotEvery == nil {
		return 0 // default: final snapshot only
	}
	return *c.SnapshotEvery
}

// GetSubGrid returns the restriction interval, if one is configured.
func (c *RunConfig) GetSubGrid() (a, b float64, ok bool) {
	if c.SubGridLower == nil || c.SubGridUpper == nil {
		return 0, 0, false
	}
	return *c.SubGridLower, *c.SubGridUpper, true
}

// GetLogLevel returns the log level or the default.
func (c *RunConfig) GetLogLevel() monitoring.Level {
	if c.LogLevel == nil {
		return monitoring.LevelInfo
	}
	lvl, ok := monitoring.ParseLevel(*c.LogLevel)
	if !ok {
		return monitoring.LevelInfo
	}
	return lvl
}
