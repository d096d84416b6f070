package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/distance.report/internal/distance"
	"github.com/banshee-data/distance.report/internal/pcradar"
	"github.com/banshee-data/distance.report/internal/units"
)

// TuningConfig represents the root configuration for detector tuning
// parameters. The schema matches the /api/config endpoint so the same
// JSON can be used for both startup configuration and runtime updates.
// All fields are pointers so partial configs only override what they
// name.
type TuningConfig struct {
	// Measurement range params
	StartM        *float64 `json:"start_m,omitempty"`
	EndM          *float64 `json:"end_m,omitempty"`
	MaxStepLength *int     `json:"max_step_length,omitempty"`
	MaxProfile    *int     `json:"max_profile,omitempty"`
	SignalQuality *float64 `json:"signal_quality,omitempty"`

	// Threshold params
	ThresholdMethod              *string  `json:"threshold_method,omitempty"` // "cfar", "fixed" or "recorded"
	NumFramesInRecordedThreshold *int     `json:"num_frames_in_recorded_threshold,omitempty"`
	FixedThresholdValue          *float64 `json:"fixed_threshold_value,omitempty"`
	ThresholdSensitivity         *float64 `json:"threshold_sensitivity,omitempty"`
	CFAROneSided                 *bool    `json:"cfar_one_sided,omitempty"`

	// Result params
	PeakSorting      *string `json:"peak_sorting,omitempty"` // "strongest" or "closest"
	Units            *string `json:"units,omitempty"`
	MeasureInterval  *string `json:"measure_interval,omitempty"` // duration string like "200ms"
	MeasurementLimit *int    `json:"measurement_limit,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig populated with the stock
// detector defaults.
func DefaultTuningConfig() *TuningConfig {
	stock := distance.DefaultDetectorConfig()
	return &TuningConfig{
		StartM:                       ptrFloat64(stock.StartM),
		EndM:                         ptrFloat64(stock.EndM),
		MaxProfile:                   ptrInt(int(stock.MaxProfile)),
		SignalQuality:                ptrFloat64(stock.SignalQuality),
		ThresholdMethod:              ptrString(stock.ThresholdMethod.String()),
		NumFramesInRecordedThreshold: ptrInt(stock.NumFramesInRecordedThreshold),
		FixedThresholdValue:          ptrFloat64(stock.FixedThresholdValue),
		ThresholdSensitivity:         ptrFloat64(stock.ThresholdSensitivity),
		CFAROneSided:                 ptrBool(stock.CFAROneSided),
		PeakSorting:                  ptrString(stock.PeakSorting.String()),
		Units:                        ptrString(units.Meters),
		MeasureInterval:              ptrString("200ms"),
		MeasurementLimit:             ptrInt(100),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.StartM != nil && *c.StartM < 0 {
		return fmt.Errorf("start_m must be non-negative, got %f", *c.StartM)
	}
	if c.StartM != nil && c.EndM != nil && *c.StartM >= *c.EndM {
		return fmt.Errorf("start_m %f must be before end_m %f", *c.StartM, *c.EndM)
	}

	if c.MaxProfile != nil {
		if !pcradar.Profile(*c.MaxProfile).Valid() {
			return fmt.Errorf("invalid max_profile %d", *c.MaxProfile)
		}
	}

	if c.ThresholdMethod != nil {
		if _, ok := distance.ParseThresholdMethod(*c.ThresholdMethod); !ok {
			return fmt.Errorf("invalid threshold_method %q (want cfar, fixed or recorded)", *c.ThresholdMethod)
		}
	}

	if c.ThresholdSensitivity != nil {
		if *c.ThresholdSensitivity < 0 || *c.ThresholdSensitivity > 1 {
			return fmt.Errorf("threshold_sensitivity must be between 0 and 1, got %f", *c.ThresholdSensitivity)
		}
	}

	if c.PeakSorting != nil {
		if _, ok := distance.ParsePeakSorting(*c.PeakSorting); !ok {
			return fmt.Errorf("invalid peak_sorting %q (want strongest or closest)", *c.PeakSorting)
		}
	}

	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q (want %s)", *c.Units, units.GetValidUnitsString())
	}

	if c.MeasureInterval != nil && *c.MeasureInterval != "" {
		if _, err := time.ParseDuration(*c.MeasureInterval); err != nil {
			return fmt.Errorf("invalid measure_interval '%s': %w", *c.MeasureInterval, err)
		}
	}

	if c.MeasurementLimit != nil && *c.MeasurementLimit < 1 {
		return fmt.Errorf("measurement_limit must be positive, got %d", *c.MeasurementLimit)
	}

	return nil
}

// DetectorConfig builds a distance.DetectorConfig from the tuning
// values, falling back to the stock defaults for any nil field.
func (c *TuningConfig) DetectorConfig() distance.DetectorConfig {
	cfg := distance.DefaultDetectorConfig()
	if c.StartM != nil {
		cfg.StartM = *c.StartM
	}
	if c.EndM != nil {
		cfg.EndM = *c.EndM
	}
	if c.MaxStepLength != nil {
		cfg.MaxStepLength = *c.MaxStepLength
	}
	if c.MaxProfile != nil {
		cfg.MaxProfile = pcradar.Profile(*c.MaxProfile)
	}
	if c.SignalQuality != nil {
		cfg.SignalQuality = *c.SignalQuality
	}
	if c.ThresholdMethod != nil {
		if m, ok := distance.ParseThresholdMethod(*c.ThresholdMethod); ok {
			cfg.ThresholdMethod = m
		}
	}
	if c.NumFramesInRecordedThreshold != nil {
		cfg.NumFramesInRecordedThreshold = *c.NumFramesInRecordedThreshold
	}
	if c.FixedThresholdValue != nil {
		cfg.FixedThresholdValue = *c.FixedThresholdValue
	}
	if c.ThresholdSensitivity != nil {
		cfg.ThresholdSensitivity = *c.ThresholdSensitivity
	}
	if c.CFAROneSided != nil {
		cfg.CFAROneSided = *c.CFAROneSided
	}
	if c.PeakSorting != nil {
		if s, ok := distance.ParsePeakSorting(*c.PeakSorting); ok {
			cfg.PeakSorting = s
		}
	}
	return cfg
}

// GetUnits returns the units value or the default.
func (c *TuningConfig) GetUnits() string {
	if c.Units == nil {
		return units.Meters
	}
	return *c.Units
}

// GetMeasureInterval parses and returns the MeasureInterval as a time.Duration.
func (c *TuningConfig) GetMeasureInterval() time.Duration {
	if c.MeasureInterval == nil || *c.MeasureInterval == "" {
		return 200 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.MeasureInterval)
	if err != nil {
		return 200 * time.Millisecond // default on parse error
	}
	return d
}

// GetMeasurementLimit returns the measurement_limit value or the default.
func (c *TuningConfig) GetMeasurementLimit() int {
	if c.MeasurementLimit == nil {
		return 100
	}
	return *c.MeasurementLimit
}
