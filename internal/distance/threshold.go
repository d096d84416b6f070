package distance

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

// ThresholdMethod selects how the detection threshold is formed.
type ThresholdMethod int

const (
	// ThresholdCFAR derives an adaptive threshold from the local average
	// around each point (constant false-alarm rate).
	ThresholdCFAR ThresholdMethod = iota
	// ThresholdFixed uses a single configured amplitude.
	ThresholdFixed
	// ThresholdRecorded uses a previously recorded background sweep.
	ThresholdRecorded
)

func (m ThresholdMethod) String() string {
	switch m {
	case ThresholdCFAR:
		return "cfar"
	case ThresholdFixed:
		return "fixed"
	case ThresholdRecorded:
		return "recorded"
	}
	return "unknown"
}

// ParseThresholdMethod maps a config string to a ThresholdMethod.
func ParseThresholdMethod(s string) (ThresholdMethod, bool) {
	switch s {
	case "cfar":
		return ThresholdCFAR, true
	case "fixed":
		return ThresholdFixed, true
	case "recorded":
		return ThresholdRecorded, true
	}
	return 0, false
}

const (
	// DefaultFixedThresholdValue is the default fixed threshold amplitude.
	DefaultFixedThresholdValue = 100.0
	// DefaultThresholdSensitivity divides the CFAR local average; higher
	// values lower the threshold.
	DefaultThresholdSensitivity = 0.5
	// DefaultNumStdDevs is the k in mean + k*stddev for recorded thresholds.
	DefaultNumStdDevs = 3.0

	cfarGuardLengthAdjustment  = 2.0
	cfarWindowLengthAdjustment = 0.25

	// sensitivityEpsilon keeps the CFAR division defined at sensitivity 0.
	sensitivityEpsilon = 1e-10
)

// cfarParams holds the resolved CFAR geometry for one processor: a guard
// gap of guardHalf samples on each side of the point under test, then a
// windowLen-sample averaging window.
type cfarParams struct {
	guardHalf   int
	windowLen   int
	sensitivity float64
	oneSided    bool
}

func newCFARParams(profile pcradar.Profile, stepLengthM float64, cfg ProcessorConfig) cfarParams {
	guardM := cfg.CFARGuardLengthM
	if guardM == 0 {
		guardM = profile.EnvelopeWidthM() * cfarGuardLengthAdjustment
	}
	windowM := cfg.CFARWindowLengthM
	if windowM == 0 {
		windowM = profile.EnvelopeWidthM() * cfarWindowLengthAdjustment
	}

	sensitivity := cfg.ThresholdSensitivity
	if sensitivity == 0 {
		sensitivity = DefaultThresholdSensitivity
	}

	return cfarParams{
		guardHalf:   int(math.Round(guardM / 2 / stepLengthM)),
		windowLen:   int(math.Round(windowM / stepLengthM)),
		sensitivity: sensitivity,
		oneSided:    cfg.CFAROneSided,
	}
}

// margin returns the number of envelope samples at each edge where the
// CFAR window is incomplete and the threshold is therefore undefined.
func (c cfarParams) margin() int {
	return c.guardHalf + c.windowLen
}

// cfarMargin computes the CFAR edge margin (in envelope samples) for a
// profile at a given step length using the default guard and window
// geometry. The planner uses this to pad segments so the cropped sweep
// still covers the requested span with a defined threshold.
func cfarMargin(profile pcradar.Profile, stepLength int) int {
	stepLengthM := pcradar.ApproxBaseStepLengthM * float64(stepLength)
	return newCFARParams(profile, stepLengthM, ProcessorConfig{}).margin()
}

// threshold computes the CFAR threshold for the envelope. Indices whose
// window would run past either edge get NaN and are never reported as
// peaks. noiseStd, when non-zero, raises the local average by the
// calibrated noise floor before the sensitivity division.
func (c cfarParams) threshold(absSweep []float64, noiseStd float64) []float64 {
	n := len(absSweep)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	maxOffset := c.guardHalf + c.windowLen - 1
	if maxOffset < 0 || maxOffset >= n {
		return out
	}

	startIdx := maxOffset
	endIdx := n
	if !c.oneSided {
		endIdx = n - maxOffset
	}

	window := make([]float64, 0, 2*c.windowLen)
	for idx := startIdx; idx < endIdx; idx++ {
		window = window[:0]
		for k := 0; k < c.windowLen; k++ {
			window = append(window, absSweep[idx-(c.guardHalf+k)])
			if !c.oneSided {
				window = append(window, absSweep[idx+(c.guardHalf+k)])
			}
		}
		out[idx] = (stat.Mean(window, nil) + noiseStd) / (c.sensitivity + sensitivityEpsilon)
	}
	return out
}

// fixedThreshold returns a constant threshold array.
func fixedThreshold(numPoints int, value float64) []float64 {
	out := make([]float64, numPoints)
	for i := range out {
		out[i] = value
	}
	return out
}

// thresholdRecorder accumulates background sweeps into a recorded
// threshold. State is owned by a single processor instance and persists
// across calls for the lifetime of the calibration run.
type thresholdRecorder struct {
	sum       []float64
	sumSq     []float64
	numSweeps float64
	numStd    float64
}

// minSweepsForValidThreshold is the accumulation count below which no
// threshold is emitted (the sample standard deviation needs two sweeps).
const minSweepsForValidThreshold = 2

func newThresholdRecorder(numPoints int, numStd float64) *thresholdRecorder {
	if numStd == 0 {
		numStd = DefaultNumStdDevs
	}
	return &thresholdRecorder{
		sum:    make([]float64, numPoints),
		sumSq:  make([]float64, numPoints),
		numStd: numStd,
	}
}

// update folds one envelope into the running statistics and returns the
// current threshold, or nil while fewer than two sweeps have been seen.
func (r *thresholdRecorder) update(absSweep []float64) []float64 {
	r.numSweeps++
	floats.Add(r.sum, absSweep)
	for i, v := range absSweep {
		r.sumSq[i] += v * v
	}

	if r.numSweeps < minSweepsForValidThreshold {
		return nil
	}

	n := r.numSweeps
	out := make([]float64, len(r.sum))
	for i := range out {
		mean := r.sum[i] / n
		meanSq := r.sumSq[i] / n
		// Unbiased sample standard deviation from running moments.
		std := math.Sqrt(math.Abs(meanSq-mean*mean) * n / (n - 1))
		out[i] = mean + r.numStd*std
	}
	return out
}
