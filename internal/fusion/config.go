package fusion

import (
	"fmt"

	"github.com/banshee-data/bodyfusion/internal/config"
	"github.com/banshee-data/bodyfusion/internal/skeleton"
)

// Config holds matching and fusion parameters for a Manager.
type Config struct {
	DistanceThreshold    float64              // Position gate per key joint (metres, exclusive)
	OrientationThreshold float64              // Quaternion component L2 gate per key joint (exclusive)
	KeyJoints            []skeleton.JointName // Joints compared for identity matching
	MinMatchedKeyJoints  int                  // Key joints that must match for Belongs

	// AlignQuaternionSigns flips each contributing orientation into the
	// hemisphere of the first contributor before averaging.
	AlignQuaternionSigns bool

	PoolName      string
	PoolCapacity  int
	PoolAutoScale bool

	// CheckInvariants runs CheckInvariants at the end of every Reconcile.
	CheckInvariants bool
}

// DefaultConfig returns the built-in fusion defaults: the six torso key
// joints, 0.5 m, 0.01, four matched joints, auto-scaling id pool.
func DefaultConfig() Config {
	cfg, err := ConfigFromTuning(config.DefaultTuningConfig())
	if err != nil {
		// Built-in joint names always parse.
		panic(err)
	}
	return cfg
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	names := cfg.GetKeyJoints()
	keyJoints := make([]skeleton.JointName, 0, len(names))
	seen := make(map[skeleton.JointName]string, len(names))
	for _, name := range names {
		j, err := skeleton.ParseJointName(name)
		if err != nil {
			return Config{}, fmt.Errorf("key_joints: %w", err)
		}
		// Aliases ("left clavicle", "clavicle_left") name the same joint.
		if prev, ok := seen[j]; ok {
			return Config{}, fmt.Errorf("key_joints: %q and %q both name %s", prev, name, j)
		}
		seen[j] = name
		keyJoints = append(keyJoints, j)
	}

	out := Config{
		DistanceThreshold:    cfg.GetDistanceThresholdMeters(),
		OrientationThreshold: cfg.GetOrientationThreshold(),
		KeyJoints:            keyJoints,
		MinMatchedKeyJoints:  cfg.GetMinMatchedKeyJoints(),
		AlignQuaternionSigns: cfg.GetAlignQuaternionSigns(),
		PoolName:             cfg.GetIDPoolName(),
		PoolCapacity:         cfg.GetIDPoolCapacity(),
		PoolAutoScale:        cfg.GetIDPoolAutoScale(),
		CheckInvariants:      cfg.GetCheckInvariants(),
	}
	return out.normalised(), nil
}

// normalised fills zero values so a hand-built Config behaves sensibly.
func (c Config) normalised() Config {
	if len(c.KeyJoints) == 0 {
		c.KeyJoints = append([]skeleton.JointName(nil), skeleton.DefaultKeyJoints...)
	} else {
		c.KeyJoints = append([]skeleton.JointName(nil), c.KeyJoints...)
	}
	if c.MinMatchedKeyJoints <= 0 {
		c.MinMatchedKeyJoints = len(c.KeyJoints) * 2 / 3
	}
	// At least one joint must match, otherwise every body would claim
	// every observation.
	if c.MinMatchedKeyJoints < 1 {
		c.MinMatchedKeyJoints = 1
	}
	if c.MinMatchedKeyJoints > len(c.KeyJoints) {
		c.MinMatchedKeyJoints = len(c.KeyJoints)
	}
	if c.PoolName == "" {
		c.PoolName = "logical body"
	}
	return c
}

// validate rejects configurations that cannot match anything.
func (c Config) validate() error {
	if c.DistanceThreshold <= 0 {
		return fmt.Errorf("distance threshold must be positive, got %f", c.DistanceThreshold)
	}
	if c.OrientationThreshold <= 0 {
		return fmt.Errorf("orientation threshold must be positive, got %f", c.OrientationThreshold)
	}
	seen := make(map[skeleton.JointName]bool, len(c.KeyJoints))
	for _, j := range c.KeyJoints {
		if !j.Valid() {
			return fmt.Errorf("key joint %d out of range", int(j))
		}
		if seen[j] {
			return fmt.Errorf("key joint %s listed twice", j)
		}
		seen[j] = true
	}
	return nil
}
