package distance

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

var testMetadata = pcradar.Metadata{BaseStepLengthM: pcradar.ApproxBaseStepLengthM}

func singleSubsweepConfig() pcradar.SensorConfig {
	return pcradar.SensorConfig{
		Subsweeps: []pcradar.SubsweepConfig{{
			StartPoint: 80, NumPoints: 128, StepLength: 4,
			Profile: pcradar.Profile1, HWAAS: 8, PRF: pcradar.PRF13_0MHz,
			PhaseEnhancement: true,
		}},
		SweepsPerFrame: 1,
	}
}

// gaussianFrame renders one noise-free sweep with a Gaussian envelope
// centered at distM.
func gaussianFrame(sc pcradar.SensorConfig, distM, amplitude float64) pcradar.Result {
	sub := sc.Subsweeps[0]
	sigma := sub.Profile.EnvelopeWidthM() / 2.355
	sweep := make([]complex128, sub.NumPoints)
	for p := range sweep {
		d := float64(sub.StartPoint+p*sub.StepLength)*pcradar.ApproxBaseStepLengthM - distM
		sweep[p] = complex(amplitude*math.Exp(-d*d/(2*sigma*sigma)), 0)
	}
	frame := make([][]complex128, sc.SweepsPerFrame)
	for s := range frame {
		frame[s] = sweep
	}
	return pcradar.Result{Frame: frame}
}

func TestNewProcessorValidation(t *testing.T) {
	base := func() pcradar.SensorConfig {
		return pcradar.SensorConfig{
			Subsweeps: []pcradar.SubsweepConfig{
				{StartPoint: 80, NumPoints: 40, StepLength: 4, Profile: pcradar.Profile1,
					HWAAS: 8, PRF: pcradar.PRF13_0MHz, PhaseEnhancement: true},
				{StartPoint: 240, NumPoints: 40, StepLength: 4, Profile: pcradar.Profile1,
					HWAAS: 8, PRF: pcradar.PRF13_0MHz, PhaseEnhancement: true},
			},
			SweepsPerFrame: 1,
		}
	}
	cfg := ProcessorConfig{ThresholdMethod: ThresholdFixed}

	if _, err := NewProcessor(base(), testMetadata, cfg, nil, nil); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	mixed := base()
	mixed.Subsweeps[1].Profile = pcradar.Profile3
	if _, err := NewProcessor(mixed, testMetadata, cfg, nil, nil); err == nil {
		t.Error("expected error for mixed profiles")
	}

	steps := base()
	steps.Subsweeps[1].StepLength = 8
	if _, err := NewProcessor(steps, testMetadata, cfg, nil, nil); err == nil {
		t.Error("expected error for mixed step lengths")
	}

	gap := base()
	gap.Subsweeps[1].StartPoint = 260
	if _, err := NewProcessor(gap, testMetadata, cfg, nil, nil); err == nil {
		t.Error("expected error for non-contiguous subsweeps")
	}

	noPhase := base()
	noPhase.Subsweeps[0].PhaseEnhancement = false
	if _, err := NewProcessor(noPhase, testMetadata, cfg, nil, nil); err == nil {
		t.Error("expected error for missing phase enhancement")
	}

	if _, err := NewProcessor(base(), testMetadata, cfg, []int{5}, nil); err == nil {
		t.Error("expected error for out-of-range subsweep index")
	}
}

func TestNewProcessorRecordedThresholdRequiresContext(t *testing.T) {
	cfg := ProcessorConfig{ThresholdMethod: ThresholdRecorded}
	_, err := NewProcessor(singleSubsweepConfig(), testMetadata, cfg, nil, nil)
	if err == nil {
		t.Fatal("expected error without a recorded threshold in context")
	}
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("error %T, want *ConfigurationError", err)
	}

	short := &ProcessorContext{RecordedThreshold: []float64{1, 2, 3}}
	if _, err := NewProcessor(singleSubsweepConfig(), testMetadata, cfg, nil, short); err == nil {
		t.Error("expected error for threshold length mismatch")
	}
}

func TestNewProcessorMarginTooLargeForSpan(t *testing.T) {
	sc := pcradar.SensorConfig{
		Subsweeps: []pcradar.SubsweepConfig{{
			StartPoint: 80, NumPoints: 4, StepLength: 1,
			Profile: pcradar.Profile5, HWAAS: 8, PRF: pcradar.PRF13_0MHz,
			PhaseEnhancement: true,
		}},
		SweepsPerFrame: 1,
	}
	if _, err := NewProcessor(sc, testMetadata, ProcessorConfig{ThresholdMethod: ThresholdFixed}, nil, nil); err == nil {
		t.Error("expected error when the filter margin eats the whole span")
	}
}

func TestProcessorFixedThresholdFindsTarget(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		ThresholdMethod:     ThresholdFixed,
		FixedThresholdValue: 100,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	res, err := p.Process(gaussianFrame(sc, 1.0, 500))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Distances) != 1 {
		t.Fatalf("found %d peaks, want 1: %v", len(res.Distances), res.Distances)
	}
	if math.Abs(res.Distances[0]-1.0) > 0.02 {
		t.Errorf("distance %.4f m, want near 1.0 m", res.Distances[0])
	}
	if res.Amplitudes[0] < 250 {
		t.Errorf("amplitude %.1f, want a substantial fraction of 500", res.Amplitudes[0])
	}
	if len(res.AbsSweep) != p.NumPointsCropped() {
		t.Errorf("abs sweep has %d points, want %d", len(res.AbsSweep), p.NumPointsCropped())
	}
}

func TestProcessorFixedThresholdNoTarget(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		ThresholdMethod:     ThresholdFixed,
		FixedThresholdValue: 100,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	res, err := p.Process(gaussianFrame(sc, 1.0, 50))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Distances) != 0 {
		t.Errorf("found peaks %v below the fixed threshold", res.Distances)
	}
}

func TestProcessorCFARFindsTarget(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		ThresholdMethod: ThresholdCFAR,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	res, err := p.Process(gaussianFrame(sc, 1.0, 500))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Distances) == 0 {
		t.Fatal("CFAR found no peaks for an isolated strong target")
	}
	if math.Abs(res.Distances[0]-1.0) > 0.02 {
		t.Errorf("distance %.4f m, want near 1.0 m", res.Distances[0])
	}
}

func TestProcessorLeakageCalibrationPassThrough(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		Mode: LeakageCalibration,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	res, err := p.Process(gaussianFrame(sc, 1.0, 500))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Distances != nil || res.AbsSweep != nil || res.RecordedThreshold != nil {
		t.Errorf("leakage calibration produced output %+v, want empty result", res)
	}
}

func TestProcessorRecordedThresholdCalibration(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		Mode: RecordedThresholdCalibration,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	frame := gaussianFrame(sc, 1.0, 200)
	first, err := p.Process(frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if first.RecordedThreshold != nil {
		t.Error("threshold emitted after a single sweep")
	}

	second, err := p.Process(frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if second.RecordedThreshold == nil {
		t.Fatal("no threshold after two sweeps")
	}
	if len(second.RecordedThreshold) != p.NumPointsCropped() {
		t.Errorf("threshold has %d points, want %d",
			len(second.RecordedThreshold), p.NumPointsCropped())
	}

	// Identical sweeps have zero variance: threshold equals the envelope,
	// and a subsequent estimation pass on the same scene finds nothing.
	est, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		ThresholdMethod: ThresholdRecorded,
	}, nil, &ProcessorContext{RecordedThreshold: second.RecordedThreshold})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	res, err := est.Process(frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Distances) != 0 {
		t.Errorf("background scene produced peaks %v against its own threshold", res.Distances)
	}
}

func TestNewProcessorCloseRangeSkipsLoopback(t *testing.T) {
	sc := pcradar.SensorConfig{
		Subsweeps: []pcradar.SubsweepConfig{
			{StartPoint: 0, NumPoints: 1, StepLength: 1, Profile: pcradar.Profile4,
				HWAAS: 8, PRF: pcradar.PRF13_0MHz, PhaseEnhancement: true, EnableLoopback: true},
			{StartPoint: 40, NumPoints: 60, StepLength: 4, Profile: pcradar.Profile1,
				HWAAS: 8, PRF: pcradar.PRF13_0MHz, PhaseEnhancement: true},
		},
		SweepsPerFrame: 10,
	}
	cfg := ProcessorConfig{
		MeasurementType:     CloseRange,
		ThresholdMethod:     ThresholdFixed,
		FixedThresholdValue: 100,
	}

	// The loopback subsweep has a different profile and step length; the
	// unit must ignore it and build its pipeline on the ranging subsweep.
	p, err := NewProcessor(sc, testMetadata, cfg, []int{0, 1}, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	ranging := sc.Subsweeps[1]
	marginP := filterEdgeMargin(ranging.Profile, ranging.StepLength)
	if want := ranging.NumPoints - 2*marginP; p.NumPointsCropped() != want {
		t.Errorf("cropped points = %d, want %d from the ranging subsweep", p.NumPointsCropped(), want)
	}

	noLoopback := sc
	noLoopback.Subsweeps = append([]pcradar.SubsweepConfig(nil), sc.Subsweeps...)
	noLoopback.Subsweeps[0].EnableLoopback = false
	if _, err := NewProcessor(noLoopback, testMetadata, cfg, []int{0, 1}, nil); err == nil {
		t.Error("expected error when the reference subsweep is not loopback")
	}

	if _, err := NewProcessor(sc, testMetadata, cfg, []int{1}, nil); err == nil {
		t.Error("expected error for close range unit with a single subsweep")
	}
}

func TestProcessorFrameShapeMismatch(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		ThresholdMethod:     ThresholdFixed,
		FixedThresholdValue: 100,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	bad := pcradar.Result{Frame: [][]complex128{make([]complex128, 10)}}
	if _, err := p.Process(bad); err == nil {
		t.Error("expected error for frame/config shape mismatch")
	}
}

func TestProcessorDistanceAxis(t *testing.T) {
	sc := singleSubsweepConfig()
	p, err := NewProcessor(sc, testMetadata, ProcessorConfig{
		ThresholdMethod: ThresholdFixed,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	axis := p.DistancesM()
	if len(axis) != p.NumPointsCropped() {
		t.Fatalf("axis has %d points, want %d", len(axis), p.NumPointsCropped())
	}
	// Margin of 4 filter samples at step 4: the axis starts at point 96.
	want := 96 * pcradar.ApproxBaseStepLengthM
	if math.Abs(axis[0]-want) > 1e-12 {
		t.Errorf("axis[0] = %v, want %v", axis[0], want)
	}
	stepM := 4 * pcradar.ApproxBaseStepLengthM
	if math.Abs((axis[1]-axis[0])-stepM) > 1e-12 {
		t.Errorf("axis step = %v, want %v", axis[1]-axis[0], stepM)
	}
}
