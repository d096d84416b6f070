// Package distance converts a high-level ranging intent into concrete
// radar acquisition parameters, and raw per-sweep IQ frames into
// calibrated distance/amplitude estimates.
//
// The package is split along the same seams as the hardware: the planner
// (plan.go) partitions a requested span into acquisition groups, the
// processing units (processor.go) filter and threshold individual
// subsweep slices, the aggregator (aggregator.go) fuses per-unit results
// and owns all close-range leakage math, and the Detector below
// orchestrates the calibration and run lifecycle on top of a
// pcradar.Link.
package distance

import (
	"context"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

// DetailedStatus names the calibration readiness of a config/context
// pair.
type DetailedStatus int

const (
	StatusOK DetailedStatus = iota
	StatusCloseRangeCalibrationMissing
	StatusCloseRangeConfigMismatch
	StatusRecordedThresholdMissing
	StatusRecordedThresholdConfigMismatch
)

func (s DetailedStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCloseRangeCalibrationMissing:
		return "close_range_calibration_missing"
	case StatusCloseRangeConfigMismatch:
		return "close_range_calibration_config_mismatch"
	case StatusRecordedThresholdMissing:
		return "recorded_threshold_missing"
	case StatusRecordedThresholdConfigMismatch:
		return "recorded_threshold_config_mismatch"
	}
	return "unknown"
}

// DetectorStatus is a derived, read-only snapshot of calibration
// readiness. It is never stored; recompute it from the current config
// and context on demand.
type DetectorStatus struct {
	State                      DetailedStatus `json:"state"`
	ReadyToCalibrateCloseRange bool           `json:"ready_to_calibrate_close_range"`
	ReadyToRecordThreshold     bool           `json:"ready_to_record_threshold"`
	ReadyToStart               bool           `json:"ready_to_start"`
}

// DetectorResult is the fused output of one frame.
type DetectorResult struct {
	Distances        []float64
	Amplitudes       []float64
	ProcessorResults []ProcessorResult
	ServiceResult    []pcradar.GroupResult
}

// Detector orchestrates calibration order, session-config matching and
// the run lifecycle. It is single-threaded: calibration operations
// require a non-running detector, which eliminates any race with
// GetNext.
type Detector struct {
	link     pcradar.Link
	sensorID int
	config   DetectorConfig
	context  DetectorContext

	session pcradar.SessionConfig
	specs   []ProcessorSpec

	aggregator *Aggregator
	started    bool
}

// NewDetector plans the session for the given config and returns a
// detector in the idle state. A nil context starts uncalibrated.
func NewDetector(link pcradar.Link, sensorID int, cfg DetectorConfig, dctx *DetectorContext) (*Detector, error) {
	d := &Detector{link: link, sensorID: sensorID}
	if dctx != nil {
		d.context = *dctx
	}
	if err := d.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateConfig replans the session for a new config. Calibration data in
// the context is kept; a config whose session layout differs from the
// calibrated one will surface as a config mismatch in Status.
func (d *Detector) UpdateConfig(cfg DetectorConfig) error {
	if d.started {
		return lifecycleErrorf("cannot update config while running")
	}
	session, specs, err := PlanSession(cfg, d.sensorID)
	if err != nil {
		return err
	}
	d.config = cfg
	d.session = session
	d.specs = specs
	return nil
}

// Config returns the active detector config.
func (d *Detector) Config() DetectorConfig { return d.config }

// Context returns the current calibration context.
func (d *Detector) Context() DetectorContext { return d.context }

// SetContext replaces the calibration context, e.g. with one restored
// from storage. Rejected while running.
func (d *Detector) SetContext(dctx DetectorContext) error {
	if d.started {
		return lifecycleErrorf("cannot replace context while running")
	}
	d.context = dctx
	return nil
}

// SessionConfig returns the planned device session configuration.
func (d *Detector) SessionConfig() pcradar.SessionConfig { return d.session }

// ProcessorSpecs returns the planned processor specifications.
func (d *Detector) ProcessorSpecs() []ProcessorSpec {
	out := make([]ProcessorSpec, len(d.specs))
	copy(out, d.specs)
	return out
}

// Started reports whether the detector is streaming.
func (d *Detector) Started() bool { return d.started }

// Status recomputes calibration readiness for the active config and
// context.
func (d *Detector) Status() (DetectorStatus, error) {
	return ComputeStatus(d.config, &d.context, d.sensorID)
}

// ComputeStatus derives calibration readiness for a config/context pair
// without mutating either. Deterministic: same inputs give the same
// status. The sensor id must match the one the calibrations were
// captured with, since it is part of the stored session configs.
func ComputeStatus(cfg DetectorConfig, dctx *DetectorContext, sensorID int) (DetectorStatus, error) {
	session, specs, err := PlanSession(cfg, sensorID)
	if err != nil {
		return DetectorStatus{}, err
	}

	var state DetailedStatus
	readyToCalibrateCloseRange := false
	readyToRecordThreshold := false

	if hasCloseRange(specs) {
		readyToCalibrateCloseRange = true
		switch {
		case !dctx.closeRangeCalibrated():
			state = StatusCloseRangeCalibrationMissing
		case dctx.CloseRangeSessionUsed == nil || !session.Equal(*dctx.CloseRangeSessionUsed):
			state = StatusCloseRangeConfigMismatch
		case !dctx.recordedThresholdCalibrated():
			state = StatusRecordedThresholdMissing
			readyToRecordThreshold = true
		case dctx.RecordedThresholdSessionUsed == nil || !session.Equal(*dctx.RecordedThresholdSessionUsed):
			state = StatusRecordedThresholdConfigMismatch
		default:
			state = StatusOK
			readyToRecordThreshold = true
		}
	} else if hasRecordedThresholdMode(specs) {
		readyToRecordThreshold = true
		switch {
		case !dctx.recordedThresholdCalibrated():
			state = StatusRecordedThresholdMissing
		case dctx.RecordedThresholdSessionUsed == nil || !session.Equal(*dctx.RecordedThresholdSessionUsed):
			state = StatusRecordedThresholdConfigMismatch
		default:
			state = StatusOK
		}
	} else {
		state = StatusOK
	}

	return DetectorStatus{
		State:                      state,
		ReadyToCalibrateCloseRange: readyToCalibrateCloseRange,
		ReadyToRecordThreshold:     readyToRecordThreshold,
		ReadyToStart:               state == StatusOK,
	}, nil
}

func hasCloseRange(specs []ProcessorSpec) bool {
	for _, s := range specs {
		if s.Config.MeasurementType == CloseRange {
			return true
		}
	}
	return false
}

func hasRecordedThresholdMode(specs []ProcessorSpec) bool {
	for _, s := range specs {
		if s.Config.ThresholdMethod == ThresholdRecorded {
			return true
		}
	}
	return false
}

// CalibrateCloseRange measures the direct leakage and phase jitter
// reference from one raw frame. Valid only when not running and only for
// configs whose plan contains exactly one close-range spec; stored
// recorded thresholds are invalidated because they depend on the leakage
// state.
func (d *Detector) CalibrateCloseRange(ctx context.Context) error {
	if d.started {
		return lifecycleErrorf("cannot calibrate close range while running")
	}

	var closeSpecs []ProcessorSpec
	for _, s := range d.specs {
		if s.Config.MeasurementType == CloseRange {
			closeSpecs = append(closeSpecs, s)
		}
	}
	if len(closeSpecs) != 1 {
		return configErrorf("close range calibration needs exactly one close-range spec, plan has %d",
			len(closeSpecs))
	}
	specs := withMode(closeSpecs, LeakageCalibration)

	// Setup with the full session config so frame shapes match the plan.
	metadata, err := d.link.Setup(d.session)
	if err != nil {
		return err
	}
	aggregator, err := NewAggregator(d.session, metadata, AggregatorConfig{}, specs)
	if err != nil {
		return err
	}

	if err := d.link.Start(); err != nil {
		return err
	}
	frame, err := d.link.ReadFrame(ctx)
	if err != nil {
		d.link.Stop()
		return err
	}
	aggResult, err := aggregator.Process(frame)
	if err != nil {
		d.link.Stop()
		return err
	}
	if err := d.link.Stop(); err != nil {
		return err
	}

	if aggResult.DirectLeakage == nil || aggResult.PhaseJitterCompRef == nil {
		return calibrationErrorf("leakage calibration produced no reference data")
	}

	// Stage into a copy; commit only on full success.
	staged := d.context
	staged.DirectLeakage = aggResult.DirectLeakage
	staged.PhaseJitterCompRef = aggResult.PhaseJitterCompRef
	sessionUsed := d.session
	staged.CloseRangeSessionUsed = &sessionUsed
	staged.RecordedThresholds = nil
	staged.RecordedThresholdSessionUsed = nil
	d.context = staged
	return nil
}

// RecordThreshold accumulates the configured number of frames through
// recorded-threshold-calibration pipelines and stores the resulting
// per-spec threshold arrays. Valid only when not running.
func (d *Detector) RecordThreshold(ctx context.Context) error {
	if d.started {
		return lifecycleErrorf("cannot record threshold while running")
	}

	numFrames := d.config.NumFramesInRecordedThreshold
	if numFrames < minSweepsForValidThreshold {
		return configErrorf("recorded threshold needs at least %d frames, config requests %d",
			minSweepsForValidThreshold, numFrames)
	}

	specs := withMode(d.specs, RecordedThresholdCalibration)
	specs, err := d.attachContext(specs)
	if err != nil {
		return err
	}

	metadata, err := d.link.Setup(d.session)
	if err != nil {
		return err
	}
	aggregator, err := NewAggregator(d.session, metadata, AggregatorConfig{}, specs)
	if err != nil {
		return err
	}

	if err := d.link.Start(); err != nil {
		return err
	}
	var aggResult AggregatorResult
	for i := 0; i < numFrames; i++ {
		frame, err := d.link.ReadFrame(ctx)
		if err != nil {
			d.link.Stop()
			return err
		}
		aggResult, err = aggregator.Process(frame)
		if err != nil {
			d.link.Stop()
			return err
		}
	}
	if err := d.link.Stop(); err != nil {
		return err
	}

	thresholds := make([][]float64, len(aggResult.ProcessorResults))
	for i, pr := range aggResult.ProcessorResults {
		if pr.RecordedThreshold == nil {
			return calibrationErrorf("spec %d produced no threshold after %d frames", i, numFrames)
		}
		thresholds[i] = pr.RecordedThreshold
	}

	staged := d.context
	staged.RecordedThresholds = thresholds
	sessionUsed := d.session
	staged.RecordedThresholdSessionUsed = &sessionUsed
	d.context = staged
	return nil
}

// Start validates calibration against the active config, builds the full
// processing pipeline, opens the device session and begins streaming.
func (d *Detector) Start() error {
	if d.started {
		return lifecycleErrorf("already started")
	}
	if err := d.ensureCalibrated(); err != nil {
		return err
	}
	if err := d.ensureMatchingSessionConfig(); err != nil {
		return err
	}

	specs, err := d.attachContext(d.specs)
	if err != nil {
		return err
	}
	metadata, err := d.link.Setup(d.session)
	if err != nil {
		return err
	}
	aggregator, err := NewAggregator(d.session, metadata,
		AggregatorConfig{PeakSorting: d.config.PeakSorting}, specs)
	if err != nil {
		return err
	}
	if err := d.link.Start(); err != nil {
		return err
	}

	d.aggregator = aggregator
	d.started = true
	return nil
}

// GetNext blocks for one frame and returns the fused result. Valid only
// while running.
func (d *Detector) GetNext(ctx context.Context) (DetectorResult, error) {
	if !d.started {
		return DetectorResult{}, lifecycleErrorf("not started")
	}

	frame, err := d.link.ReadFrame(ctx)
	if err != nil {
		return DetectorResult{}, err
	}
	aggResult, err := d.aggregator.Process(frame)
	if err != nil {
		return DetectorResult{}, err
	}
	return DetectorResult{
		Distances:        aggResult.Distances,
		Amplitudes:       aggResult.Amplitudes,
		ProcessorResults: aggResult.ProcessorResults,
		ServiceResult:    aggResult.ServiceResult,
	}, nil
}

// Stop closes the device session. Double-stop is a lifecycle error.
func (d *Detector) Stop() error {
	if !d.started {
		return lifecycleErrorf("already stopped")
	}
	err := d.link.Stop()
	d.started = false
	d.aggregator = nil
	return err
}

func (d *Detector) ensureCalibrated() error {
	if hasCloseRange(d.specs) {
		if !d.context.closeRangeCalibrated() {
			return calibrationErrorf("close range calibration missing")
		}
		if !d.context.recordedThresholdCalibrated() {
			return calibrationErrorf("recorded threshold calibration missing")
		}
	}
	if hasRecordedThresholdMode(d.specs) && !d.context.recordedThresholdCalibrated() {
		return calibrationErrorf("recorded threshold calibration missing")
	}
	return nil
}

func (d *Detector) ensureMatchingSessionConfig() error {
	if hasCloseRange(d.specs) {
		if d.context.CloseRangeSessionUsed == nil || !d.session.Equal(*d.context.CloseRangeSessionUsed) {
			return calibrationErrorf("close range calibration was captured under a different session config")
		}
	}
	if hasRecordedThresholdMode(d.specs) {
		if d.context.RecordedThresholdSessionUsed == nil || !d.session.Equal(*d.context.RecordedThresholdSessionUsed) {
			return calibrationErrorf("recorded threshold was captured under a different session config")
		}
	}
	return nil
}

// withMode returns copies of the specs with the processor mode replaced.
func withMode(specs []ProcessorSpec, mode ProcessorMode) []ProcessorSpec {
	out := make([]ProcessorSpec, len(specs))
	for i, s := range specs {
		s.Config.Mode = mode
		out[i] = s
	}
	return out
}

// attachContext attaches calibration data to each spec according to its
// measurement type and mode:
//
//  1. close range + distance estimation: recorded threshold, direct
//     leakage and phase jitter reference
//  2. close range + recorded threshold calibration: direct leakage and
//     phase jitter reference
//  3. far range + recorded threshold method (calibrated, matching
//     session): recorded threshold
//
// Any other spec passes through unaltered.
func (d *Detector) attachContext(specs []ProcessorSpec) ([]ProcessorSpec, error) {
	out := make([]ProcessorSpec, len(specs))
	for idx, spec := range specs {
		switch {
		case spec.Config.MeasurementType == CloseRange && spec.Config.Mode == DistanceEstimation:
			if !d.context.closeRangeCalibrated() {
				return nil, calibrationErrorf("close range calibration not performed")
			}
			if !d.context.recordedThresholdCalibrated() {
				return nil, calibrationErrorf("recorded threshold calibration not performed")
			}
			spec.Context = &ProcessorContext{
				RecordedThreshold:  d.context.RecordedThresholds[idx],
				DirectLeakage:      d.context.DirectLeakage,
				PhaseJitterCompRef: d.context.PhaseJitterCompRef,
			}

		case spec.Config.MeasurementType == CloseRange && spec.Config.Mode == RecordedThresholdCalibration:
			if !d.context.closeRangeCalibrated() {
				return nil, calibrationErrorf("close range calibration not performed")
			}
			spec.Context = &ProcessorContext{
				DirectLeakage:      d.context.DirectLeakage,
				PhaseJitterCompRef: d.context.PhaseJitterCompRef,
			}

		case spec.Config.MeasurementType == FarRange &&
			spec.Config.ThresholdMethod == ThresholdRecorded &&
			d.context.recordedThresholdCalibrated() &&
			d.context.RecordedThresholdSessionUsed != nil &&
			d.session.Equal(*d.context.RecordedThresholdSessionUsed):
			if idx >= len(d.context.RecordedThresholds) {
				return nil, calibrationErrorf("no recorded threshold for spec %d", idx)
			}
			spec.Context = &ProcessorContext{
				RecordedThreshold: d.context.RecordedThresholds[idx],
			}
		}
		out[idx] = spec
	}
	return out, nil
}
