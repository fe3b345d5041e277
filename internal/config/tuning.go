package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Built-in defaults used when a field is omitted from the JSON.
const (
	defaultDistanceThreshold    = 0.5
	defaultOrientationThreshold = 0.01
	defaultIDPoolCapacity       = 50
	defaultIDPoolName           = "logical body"
)

var defaultKeyJoints = []string{
	"pelvis",
	"spine_chest",
	"spine_navel",
	"neck",
	"clavicle_left",
	"clavicle_right",
}

// TuningConfig represents the root configuration for fusion tuning
// parameters. Every field is optional; Get* methods fall back to the
// built-in defaults.
type TuningConfig struct {
	// Matching params
	DistanceThresholdMeters *float64 `json:"distance_threshold_m,omitempty"`
	OrientationThreshold    *float64 `json:"orientation_threshold,omitempty"`
	KeyJoints               []string `json:"key_joints,omitempty"`             // joint names, e.g. "clavicle_left"
	MinMatchedKeyJoints     *int     `json:"min_matched_key_joints,omitempty"` // 0 or omitted: floor(len(key_joints)*2/3)

	// Fusion params
	AlignQuaternionSigns *bool `json:"align_quaternion_signs,omitempty"`

	// Identifier pool params
	IDPoolName      *string `json:"id_pool_name,omitempty"`
	IDPoolCapacity  *int    `json:"id_pool_capacity,omitempty"`
	IDPoolAutoScale *bool   `json:"id_pool_auto_scale,omitempty"`

	// Diagnostics
	CheckInvariants *bool `json:"check_invariants,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		DistanceThresholdMeters: ptrFloat64(defaultDistanceThreshold),
		OrientationThreshold:    ptrFloat64(defaultOrientationThreshold),
		KeyJoints:               append([]string(nil), defaultKeyJoints...),
		MinMatchedKeyJoints:     ptrInt(len(defaultKeyJoints) * 2 / 3),
		AlignQuaternionSigns:    ptrBool(false),
		IDPoolName:              ptrString(defaultIDPoolName),
		IDPoolCapacity:          ptrInt(defaultIDPoolCapacity),
		IDPoolAutoScale:         ptrBool(true),
		CheckInvariants:         ptrBool(false),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DistanceThresholdMeters != nil && *c.DistanceThresholdMeters <= 0 {
		return fmt.Errorf("distance_threshold_m must be positive, got %f", *c.DistanceThresholdMeters)
	}
	if c.OrientationThreshold != nil && *c.OrientationThreshold <= 0 {
		return fmt.Errorf("orientation_threshold must be positive, got %f", *c.OrientationThreshold)
	}

	keyJoints := c.GetKeyJoints()
	seen := make(map[string]bool, len(keyJoints))
	for _, name := range keyJoints {
		if name == "" {
			return fmt.Errorf("key_joints must not contain empty names")
		}
		if seen[name] {
			return fmt.Errorf("key_joints contains %q twice", name)
		}
		seen[name] = true
	}

	if c.MinMatchedKeyJoints != nil {
		if *c.MinMatchedKeyJoints < 0 || *c.MinMatchedKeyJoints > len(keyJoints) {
			return fmt.Errorf("min_matched_key_joints must be between 0 and %d, got %d", len(keyJoints), *c.MinMatchedKeyJoints)
		}
	}

	if c.IDPoolCapacity != nil && *c.IDPoolCapacity < 0 {
		return fmt.Errorf("id_pool_capacity must be non-negative, got %d", *c.IDPoolCapacity)
	}
	if c.IDPoolName != nil && *c.IDPoolName == "" {
		return fmt.Errorf("id_pool_name must not be empty")
	}

	return nil
}

// GetDistanceThresholdMeters returns the distance_threshold_m value or the default.
func (c *TuningConfig) GetDistanceThresholdMeters() float64 {
	if c.DistanceThresholdMeters == nil {
		return defaultDistanceThreshold
	}
	return *c.DistanceThresholdMeters
}

// GetOrientationThreshold returns the orientation_threshold value or the default.
func (c *TuningConfig) GetOrientationThreshold() float64 {
	if c.OrientationThreshold == nil {
		return defaultOrientationThreshold
	}
	return *c.OrientationThreshold
}

// GetKeyJoints returns the key_joints names or the default set.
func (c *TuningConfig) GetKeyJoints() []string {
	if len(c.KeyJoints) == 0 {
		return append([]string(nil), defaultKeyJoints...)
	}
	return append([]string(nil), c.KeyJoints...)
}

// GetMinMatchedKeyJoints returns min_matched_key_joints, or two thirds of
// the key joint count (rounded down) when unset or zero.
func (c *TuningConfig) GetMinMatchedKeyJoints() int {
	if c.MinMatchedKeyJoints == nil || *c.MinMatchedKeyJoints == 0 {
		return len(c.GetKeyJoints()) * 2 / 3
	}
	return *c.MinMatchedKeyJoints
}

// GetAlignQuaternionSigns returns the align_quaternion_signs value or the default.
func (c *TuningConfig) GetAlignQuaternionSigns() bool {
	if c.AlignQuaternionSigns == nil {
		return false // default: plain component-wise mean
	}
	return *c.AlignQuaternionSigns
}

// GetIDPoolName returns the id_pool_name value or the default.
func (c *TuningConfig) GetIDPoolName() string {
	if c.IDPoolName == nil || *c.IDPoolName == "" {
		return defaultIDPoolName
	}
	return *c.IDPoolName
}

// GetIDPoolCapacity returns the id_pool_capacity value or the default.
func (c *TuningConfig) GetIDPoolCapacity() int {
	if c.IDPoolCapacity == nil {
		return defaultIDPoolCapacity
	}
	return *c.IDPoolCapacity
}

// GetIDPoolAutoScale returns the id_pool_auto_scale value or the default.
func (c *TuningConfig) GetIDPoolAutoScale() bool {
	if c.IDPoolAutoScale == nil {
		return true
	}
	return *c.IDPoolAutoScale
}

// GetCheckInvariants returns the check_invariants value or the default.
func (c *TuningConfig) GetCheckInvariants() bool {
	if c.CheckInvariants == nil {
		return false
	}
	return *c.CheckInvariants
}
