package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/distance.report/internal/distance"
	"github.com/banshee-data/distance.report/internal/pcradar"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Defaults are set via pointers
	require.NotNil(t, cfg.StartM)
	assert.Equal(t, 0.2, *cfg.StartM)
	require.NotNil(t, cfg.EndM)
	assert.Equal(t, 1.0, *cfg.EndM)
	require.NotNil(t, cfg.ThresholdMethod)
	assert.Equal(t, "cfar", *cfg.ThresholdMethod)
	require.NotNil(t, cfg.PeakSorting)
	assert.Equal(t, "strongest", *cfg.PeakSorting)
	require.NoError(t, cfg.Validate())

	// Getter methods
	assert.Equal(t, "m", cfg.GetUnits())
	assert.Equal(t, 200*time.Millisecond, cfg.GetMeasureInterval())
	assert.Equal(t, 100, cfg.GetMeasurementLimit())
}

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	assert.Equal(t, "m", cfg.GetUnits())
	assert.Equal(t, 200*time.Millisecond, cfg.GetMeasureInterval())

	// All fields nil falls back to the stock detector config.
	assert.Equal(t, distance.DefaultDetectorConfig(), cfg.DetectorConfig())
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "start_m": 0.3,
  "end_m": 5.0,
  "max_profile": 3,
  "threshold_method": "fixed",
  "fixed_threshold_value": 250.0,
  "peak_sorting": "closest",
  "units": "cm",
  "measure_interval": "500ms"
}`
	require.NoError(t, os.WriteFile(configPath, []byte(testJSON), 0644))

	cfg, err := LoadTuningConfig(configPath)
	require.NoError(t, err)

	require.NotNil(t, cfg.StartM)
	assert.Equal(t, 0.3, *cfg.StartM)
	assert.Equal(t, "cm", cfg.GetUnits())
	assert.Equal(t, 500*time.Millisecond, cfg.GetMeasureInterval())

	// Fields not named by the file fall back to defaults.
	detectorCfg := cfg.DetectorConfig()
	assert.Equal(t, 0.3, detectorCfg.StartM)
	assert.Equal(t, 5.0, detectorCfg.EndM)
	assert.Equal(t, pcradar.Profile3, detectorCfg.MaxProfile)
	assert.Equal(t, distance.ThresholdFixed, detectorCfg.ThresholdMethod)
	assert.Equal(t, 250.0, detectorCfg.FixedThresholdValue)
	assert.Equal(t, distance.SortClosest, detectorCfg.PeakSorting)
	assert.Equal(t, 18.0, detectorCfg.SignalQuality)
	assert.Equal(t, 20, detectorCfg.NumFramesInRecordedThreshold)
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("wrong extension", func(t *testing.T) {
		path := filepath.Join(tmpDir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
		_, err := LoadTuningConfig(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTuningConfig(filepath.Join(tmpDir, "nope.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"start_m":`), 0644))
		_, err := LoadTuningConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid values rejected on load", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"start_m": 2.0, "end_m": 1.0}`), 0644))
		_, err := LoadTuningConfig(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TuningConfig)
		wantErr bool
	}{
		{"valid defaults", func(c *TuningConfig) {}, false},
		{"negative start", func(c *TuningConfig) { c.StartM = ptrFloat64(-0.1) }, true},
		{"start after end", func(c *TuningConfig) {
			c.StartM = ptrFloat64(2.0)
			c.EndM = ptrFloat64(1.0)
		}, true},
		{"invalid profile", func(c *TuningConfig) { c.MaxProfile = ptrInt(9) }, true},
		{"invalid threshold method", func(c *TuningConfig) { c.ThresholdMethod = ptrString("adaptive") }, true},
		{"sensitivity above one", func(c *TuningConfig) { c.ThresholdSensitivity = ptrFloat64(1.5) }, true},
		{"invalid peak sorting", func(c *TuningConfig) { c.PeakSorting = ptrString("weakest") }, true},
		{"invalid units", func(c *TuningConfig) { c.Units = ptrString("furlongs") }, true},
		{"invalid interval", func(c *TuningConfig) { c.MeasureInterval = ptrString("fast") }, true},
		{"zero measurement limit", func(c *TuningConfig) { c.MeasurementLimit = ptrInt(0) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTuningConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
