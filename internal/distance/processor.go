package distance

import (
	"math/cmplx"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

// ProcessorMode is the operating mode of one processing unit, fixed at
// construction.
type ProcessorMode int

const (
	// DistanceEstimation filters, thresholds and peak-picks each sweep.
	DistanceEstimation ProcessorMode = iota
	// LeakageCalibration passes raw frames through untouched; all direct
	// leakage and phase jitter math lives in the Aggregator.
	LeakageCalibration
	// RecordedThresholdCalibration accumulates filtered envelopes into a
	// background threshold.
	RecordedThresholdCalibration
)

// MeasurementType distinguishes the close-range group (leakage
// cancellation territory) from far-range groups.
type MeasurementType int

const (
	FarRange MeasurementType = iota
	CloseRange
)

// ProcessorConfig carries per-processing-unit tunables.
type ProcessorConfig struct {
	Mode            ProcessorMode
	ThresholdMethod ThresholdMethod
	MeasurementType MeasurementType

	FixedThresholdValue  float64
	ThresholdSensitivity float64 // CFAR local-average divisor
	NumStdDevs           float64 // recorded-threshold k in mean + k*stddev
	CFARGuardLengthM     float64 // 0 derives from the profile
	CFARWindowLengthM    float64 // 0 derives from the profile
	CFAROneSided         bool
}

// ProcessorContext carries calibration data into a processing unit. It
// is supplied at spec-augmentation time and read-only to the processor.
type ProcessorContext struct {
	RecordedThreshold  []float64
	DirectLeakage      []complex128
	PhaseJitterCompRef []float64
	NoiseStdDev        float64
}

// ProcessorResult is the per-frame output of one processing unit.
type ProcessorResult struct {
	Distances  []float64
	Amplitudes []float64

	// RecordedThreshold is only set in recorded-threshold calibration
	// mode, and only once at least two sweeps have been accumulated.
	RecordedThreshold []float64

	// Diagnostics for monitoring and tests.
	AbsSweep      []float64
	UsedThreshold []float64
	DistancesM    []float64
}

// Processor turns raw sweeps from one set of subsweeps into calibrated
// distance/amplitude estimates. All covered subsweeps must share profile
// and step length, be point-contiguous, and have phase enhancement
// enabled; construction fails with a ConfigurationError otherwise.
type Processor struct {
	cfg             ProcessorConfig
	context         ProcessorContext
	sensorConfig    pcradar.SensorConfig
	subsweepIndexes []int

	profile    pcradar.Profile
	stepLength int
	startPoint int
	numPoints  int

	baseStepLengthM float64
	stepLengthM     float64

	marginP           int
	startPointCropped int
	numPointsCropped  int
	distancesM        []float64

	coeffs filterCoeffs

	// distance estimation state
	threshold []float64
	cfar      cfarParams

	// recorded-threshold calibration state
	recorder *thresholdRecorder
}

// NewProcessor validates the covered subsweeps and builds a processing
// unit. subsweepIndexes nil means all subsweeps in the config. For a
// close-range unit the first covered subsweep is the loopback phase
// reference; it is excluded from the envelope pipeline, which runs on
// the remaining ranging subsweeps only.
func NewProcessor(sensorConfig pcradar.SensorConfig, metadata pcradar.Metadata, cfg ProcessorConfig, subsweepIndexes []int, context *ProcessorContext) (*Processor, error) {
	if subsweepIndexes == nil {
		subsweepIndexes = make([]int, len(sensorConfig.Subsweeps))
		for i := range subsweepIndexes {
			subsweepIndexes[i] = i
		}
	}

	if cfg.MeasurementType == CloseRange {
		if len(subsweepIndexes) < 2 {
			return nil, configErrorf("close range unit needs a loopback and a ranging subsweep, got %d", len(subsweepIndexes))
		}
		lb := subsweepIndexes[0]
		if lb < 0 || lb >= len(sensorConfig.Subsweeps) {
			return nil, configErrorf("subsweep index %d out of range", lb)
		}
		if !sensorConfig.Subsweeps[lb].EnableLoopback {
			return nil, configErrorf("close range unit's first subsweep must be the loopback reference")
		}
		subsweepIndexes = subsweepIndexes[1:]
	}

	subs := make([]pcradar.SubsweepConfig, 0, len(subsweepIndexes))
	for _, idx := range subsweepIndexes {
		if idx < 0 || idx >= len(sensorConfig.Subsweeps) {
			return nil, configErrorf("subsweep index %d out of range", idx)
		}
		subs = append(subs, sensorConfig.Subsweeps[idx])
	}
	if len(subs) == 0 {
		return nil, configErrorf("processor covers no subsweeps")
	}

	profile := subs[0].Profile
	stepLength := subs[0].StepLength
	for _, s := range subs {
		if s.Profile != profile {
			return nil, configErrorf("subsweeps mix profiles %v and %v", profile, s.Profile)
		}
		if s.StepLength != stepLength {
			return nil, configErrorf("subsweeps mix step lengths %d and %d", stepLength, s.StepLength)
		}
		if !s.PhaseEnhancement {
			return nil, configErrorf("subsweep at point %d lacks phase enhancement", s.StartPoint)
		}
	}
	for i := 1; i < len(subs); i++ {
		if subs[i].StartPoint != subs[i-1].EndPoint() {
			return nil, configErrorf("subsweeps not contiguous: %d follows end point %d",
				subs[i].StartPoint, subs[i-1].EndPoint())
		}
	}

	numPoints := 0
	for _, s := range subs {
		numPoints += s.NumPoints
	}

	p := &Processor{
		cfg:             cfg,
		sensorConfig:    sensorConfig,
		subsweepIndexes: subsweepIndexes,
		profile:         profile,
		stepLength:      stepLength,
		startPoint:      subs[0].StartPoint,
		numPoints:       numPoints,
		baseStepLengthM: metadata.BaseStepLengthM,
	}
	if context != nil {
		p.context = *context
	}
	p.stepLengthM = float64(stepLength) * p.baseStepLengthM

	p.marginP = filterEdgeMargin(profile, stepLength)
	p.startPointCropped = p.startPoint + p.marginP*stepLength
	p.numPointsCropped = numPoints - 2*p.marginP
	if p.numPointsCropped <= 0 {
		return nil, configErrorf("subsweeps span %d points, filter margin needs more than %d",
			numPoints, 2*p.marginP)
	}

	p.distancesM = make([]float64, p.numPointsCropped)
	for i := range p.distancesM {
		p.distancesM[i] = float64(p.startPointCropped+i*stepLength) * p.baseStepLengthM
	}

	p.coeffs = distanceFilterCoeffs(profile, stepLength)

	switch cfg.Mode {
	case DistanceEstimation:
		if err := p.initDistanceEstimation(); err != nil {
			return nil, err
		}
	case LeakageCalibration:
		// Pass-through by contract; nothing to prepare.
	case RecordedThresholdCalibration:
		p.recorder = newThresholdRecorder(p.numPointsCropped, cfg.NumStdDevs)
	default:
		return nil, configErrorf("unknown processor mode %d", cfg.Mode)
	}

	return p, nil
}

func (p *Processor) initDistanceEstimation() error {
	switch p.cfg.ThresholdMethod {
	case ThresholdRecorded:
		if p.context.RecordedThreshold == nil {
			return configErrorf("recorded threshold method requires a recorded threshold in context")
		}
		if len(p.context.RecordedThreshold) != p.numPointsCropped {
			return configErrorf("recorded threshold has %d points, processor covers %d",
				len(p.context.RecordedThreshold), p.numPointsCropped)
		}
		p.threshold = p.context.RecordedThreshold
	case ThresholdFixed:
		value := p.cfg.FixedThresholdValue
		if value == 0 {
			value = DefaultFixedThresholdValue
		}
		p.threshold = fixedThreshold(p.numPointsCropped, value)
	case ThresholdCFAR:
		p.cfar = newCFARParams(p.profile, p.stepLengthM, p.cfg)
	default:
		return configErrorf("unknown threshold method %d", p.cfg.ThresholdMethod)
	}
	return nil
}

// Mode returns the operating mode the processor was built with.
func (p *Processor) Mode() ProcessorMode { return p.cfg.Mode }

// NumPointsCropped returns the envelope length after margin cropping.
func (p *Processor) NumPointsCropped() int { return p.numPointsCropped }

// DistancesM returns the distance axis of the cropped envelope.
func (p *Processor) DistancesM() []float64 { return p.distancesM }

// Process runs one raw group result through the unit. The result must
// contain the full group frame; the processor slices out its own
// subsweeps.
func (p *Processor) Process(result pcradar.Result) (ProcessorResult, error) {
	if p.cfg.Mode == LeakageCalibration {
		// All leakage math is the Aggregator's responsibility.
		return ProcessorResult{}, nil
	}

	slice, err := result.SubsweepSlice(p.sensorConfig, p.subsweepIndexes)
	if err != nil {
		return ProcessorResult{}, configErrorf("frame does not match processor layout: %v", err)
	}

	sweep := slice.MeanSweep()
	filtered := p.coeffs.filtfilt(sweep)

	absSweep := make([]float64, p.numPointsCropped)
	for i := range absSweep {
		absSweep[i] = cmplx.Abs(filtered[p.marginP+i])
	}

	switch p.cfg.Mode {
	case DistanceEstimation:
		return p.processDistanceEstimation(absSweep), nil
	case RecordedThresholdCalibration:
		return ProcessorResult{
			AbsSweep:          absSweep,
			RecordedThreshold: p.recorder.update(absSweep),
		}, nil
	}
	return ProcessorResult{}, configErrorf("unknown processor mode %d", p.cfg.Mode)
}

func (p *Processor) processDistanceEstimation(absSweep []float64) ProcessorResult {
	threshold := p.threshold
	if p.cfg.ThresholdMethod == ThresholdCFAR {
		threshold = p.cfar.threshold(absSweep, p.context.NoiseStdDev)
	}

	peaks := findPeaks(absSweep, threshold)
	distances, amplitudes := interpolatePeaks(
		absSweep, peaks, p.startPointCropped, p.stepLength, p.baseStepLengthM)

	return ProcessorResult{
		Distances:     distances,
		Amplitudes:    amplitudes,
		AbsSweep:      absSweep,
		UsedThreshold: threshold,
		DistancesM:    p.distancesM,
	}
}
