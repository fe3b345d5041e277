package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.DistanceThresholdMeters == nil || *cfg.DistanceThresholdMeters != 0.5 {
		t.Errorf("Expected DistanceThresholdMeters 0.5, got %v", cfg.DistanceThresholdMeters)
	}
	if cfg.OrientationThreshold == nil || *cfg.OrientationThreshold != 0.01 {
		t.Errorf("Expected OrientationThreshold 0.01, got %v", cfg.OrientationThreshold)
	}
	if len(cfg.KeyJoints) != 6 {
		t.Errorf("Expected 6 key joints, got %d", len(cfg.KeyJoints))
	}
	if cfg.GetMinMatchedKeyJoints() != 4 {
		t.Errorf("GetMinMatchedKeyJoints() = %d, want 4", cfg.GetMinMatchedKeyJoints())
	}
	if !cfg.GetIDPoolAutoScale() {
		t.Errorf("GetIDPoolAutoScale() = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEmptyTuningConfigGetters(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetDistanceThresholdMeters() != 0.5 {
		t.Errorf("GetDistanceThresholdMeters() = %f, want 0.5", cfg.GetDistanceThresholdMeters())
	}
	if cfg.GetOrientationThreshold() != 0.01 {
		t.Errorf("GetOrientationThreshold() = %f, want 0.01", cfg.GetOrientationThreshold())
	}
	if got := cfg.GetKeyJoints(); len(got) != 6 || got[0] != "pelvis" {
		t.Errorf("GetKeyJoints() = %v", got)
	}
	if cfg.GetMinMatchedKeyJoints() != 4 {
		t.Errorf("GetMinMatchedKeyJoints() = %d, want 4", cfg.GetMinMatchedKeyJoints())
	}
	if cfg.GetAlignQuaternionSigns() {
		t.Errorf("GetAlignQuaternionSigns() = true, want false")
	}
	if cfg.GetIDPoolName() != "logical body" {
		t.Errorf("GetIDPoolName() = %q", cfg.GetIDPoolName())
	}
	if cfg.GetIDPoolCapacity() != 50 {
		t.Errorf("GetIDPoolCapacity() = %d, want 50", cfg.GetIDPoolCapacity())
	}
	if cfg.GetCheckInvariants() {
		t.Errorf("GetCheckInvariants() = true, want false")
	}
}

func TestGetKeyJointsReturnsCopy(t *testing.T) {
	cfg := DefaultTuningConfig()
	got := cfg.GetKeyJoints()
	got[0] = "head"
	if cfg.KeyJoints[0] != "pelvis" {
		t.Errorf("GetKeyJoints leaked internal slice")
	}
}

func TestMinMatchedFollowsKeyJoints(t *testing.T) {
	cfg := EmptyTuningConfig()
	cfg.KeyJoints = []string{"pelvis", "neck", "spine_chest"}
	if cfg.GetMinMatchedKeyJoints() != 2 {
		t.Errorf("GetMinMatchedKeyJoints() = %d, want 2", cfg.GetMinMatchedKeyJoints())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "distance_threshold_m": 0.3,
  "key_joints": ["pelvis", "neck", "spine_chest"],
  "id_pool_capacity": 4,
  "id_pool_auto_scale": false
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}

	if cfg.GetDistanceThresholdMeters() != 0.3 {
		t.Errorf("GetDistanceThresholdMeters() = %f, want 0.3", cfg.GetDistanceThresholdMeters())
	}
	// Omitted field falls back to default.
	if cfg.GetOrientationThreshold() != 0.01 {
		t.Errorf("GetOrientationThreshold() = %f, want 0.01", cfg.GetOrientationThreshold())
	}
	if cfg.GetMinMatchedKeyJoints() != 2 {
		t.Errorf("GetMinMatchedKeyJoints() = %d, want 2", cfg.GetMinMatchedKeyJoints())
	}
	if cfg.GetIDPoolCapacity() != 4 || cfg.GetIDPoolAutoScale() {
		t.Errorf("pool settings = %d/%v, want 4/false", cfg.GetIDPoolCapacity(), cfg.GetIDPoolAutoScale())
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"missing", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"negative distance", write("neg.json", `{"distance_threshold_m": -1}`), "distance_threshold_m"},
		{"zero orientation", write("zero.json", `{"orientation_threshold": 0}`), "orientation_threshold"},
		{"duplicate joint", write("dup.json", `{"key_joints": ["neck", "neck"]}`), "twice"},
		{"min too large", write("min.json", `{"min_matched_key_joints": 7}`), "min_matched_key_joints"},
		{"negative capacity", write("cap.json", `{"id_pool_capacity": -2}`), "id_pool_capacity"},
		{"empty pool name", write("name.json", `{"id_pool_name": ""}`), "id_pool_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfigTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(p, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetDistanceThresholdMeters() != 0.5 {
		t.Errorf("defaults file distance = %f, want 0.5", cfg.GetDistanceThresholdMeters())
	}
	if cfg.GetMinMatchedKeyJoints() != 4 {
		t.Errorf("defaults file min matched = %d, want 4", cfg.GetMinMatchedKeyJoints())
	}
	if !cfg.GetCheckInvariants() {
		t.Errorf("defaults file should enable invariant checks")
	}
}
