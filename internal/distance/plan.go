package distance

import (
	"math"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

// Planner tunables tied to hardware characteristics.
const (
	// minPointsInEnvelopeFWHM keeps at least this many samples across a
	// profile's envelope full-width-half-max when choosing a step length.
	minPointsInEnvelopeFWHM = 4.0

	// pointsPerCoarseStep is the device's coarse step granularity; step
	// lengths at or above it must be multiples of it.
	pointsPerCoarseStep = 24

	minHWAAS = 4
	maxHWAAS = 511

	closeRangeLoopbackGain = 15
	closeRangeGain         = 5
	farRangeGain           = 10

	closeRangeSweepsPerFrame = 10
	farRangeSweepsPerFrame   = 1
)

// validCoarseStepLengths are the step lengths the device accepts below
// one coarse step.
var validCoarseStepLengths = []int{1, 2, 3, 4, 6, 8, 12, 24}

// AcquisitionGroupPlan is one planned hardware acquisition group: a
// shared profile and step length, segment breakpoints in device points
// (margins included), and a hardware-average count per segment.
// Immutable once built.
type AcquisitionGroupPlan struct {
	StepLength  int
	Breakpoints []int
	Profile     pcradar.Profile
	HWAAS       []int
}

// ProcessorSpec binds one processing unit to its slice of the session:
// an acquisition group, a sensor, a set of subsweep indexes, and the
// processor configuration. Context is attached before each run mode.
type ProcessorSpec struct {
	GroupIndex      int
	SensorID        int
	SubsweepIndexes []int
	Config          ProcessorConfig
	Context         *ProcessorContext
}

// DetectorConfig is the user-level measurement intent.
type DetectorConfig struct {
	StartM        float64         `json:"start_m"`
	EndM          float64         `json:"end_m"`
	MaxStepLength int             `json:"max_step_length,omitempty"` // 0 = no cap
	MaxProfile    pcradar.Profile `json:"max_profile"`
	SignalQuality float64         `json:"signal_quality"`

	ThresholdMethod ThresholdMethod `json:"threshold_method"`
	PeakSorting     PeakSorting     `json:"peak_sorting"`

	NumFramesInRecordedThreshold int     `json:"num_frames_in_recorded_threshold"`
	FixedThresholdValue          float64 `json:"fixed_threshold_value"`
	ThresholdSensitivity         float64 `json:"threshold_sensitivity"`
	CFAROneSided                 bool    `json:"cfar_one_sided"`
}

// DefaultDetectorConfig returns the stock 0.2-1.0 m CFAR configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		StartM:                       0.2,
		EndM:                         1.0,
		MaxProfile:                   pcradar.Profile5,
		SignalQuality:                18.0,
		ThresholdMethod:              ThresholdCFAR,
		PeakSorting:                  SortStrongest,
		NumFramesInRecordedThreshold: 20,
		FixedThresholdValue:          DefaultFixedThresholdValue,
		ThresholdSensitivity:         DefaultThresholdSensitivity,
	}
}

// Validate checks the config for plannability.
func (c DetectorConfig) Validate() error {
	if c.StartM < 0 {
		return configErrorf("start %.3f m is negative", c.StartM)
	}
	if c.StartM >= c.EndM {
		return configErrorf("start %.3f m is not before end %.3f m", c.StartM, c.EndM)
	}
	if !c.MaxProfile.Valid() {
		return configErrorf("invalid max profile %d", uint8(c.MaxProfile))
	}
	if c.MaxStepLength < 0 {
		return configErrorf("max step length %d is negative", c.MaxStepLength)
	}
	if c.EndM > pcradar.PRF6_5MHz.MaxMeasDistM() {
		return configErrorf("end %.3f m exceeds the maximum measurable distance %.1f m",
			c.EndM, pcradar.PRF6_5MHz.MaxMeasDistM())
	}
	return nil
}

// groupPlans holds the planner's intermediate output before it is turned
// into hardware subsweep descriptors.
type groupPlans struct {
	closeRange []AcquisitionGroupPlan // zero or one entry
	farRange   []AcquisitionGroupPlan
}

// PlanSession partitions the requested measurement span into
// hardware-feasible acquisition groups and emits the device session
// configuration plus the matching processor specifications.
//
// The close/far transition point is the effective minimum distance of
// the shortest profile. Below it a close-range group (loopback reference
// plus ranging subsweep) is planned with Profile 1; above it far-range
// segments step through increasingly capable profiles until the max
// profile carries the remainder of the span.
func PlanSession(cfg DetectorConfig, sensorID int) (pcradar.SessionConfig, []ProcessorSpec, error) {
	if err := cfg.Validate(); err != nil {
		return pcradar.SessionConfig{}, nil, err
	}

	plans, err := createGroupPlans(cfg)
	if err != nil {
		return pcradar.SessionConfig{}, nil, err
	}

	var session pcradar.SessionConfig
	var specs []ProcessorSpec
	groupIndex := 0

	if len(plans.closeRange) > 0 {
		sc := closePlanToSensorConfig(plans.closeRange[0])
		session.Groups = append(session.Groups, map[int]pcradar.SensorConfig{sensorID: sc})
		specs = append(specs, ProcessorSpec{
			GroupIndex:      groupIndex,
			SensorID:        sensorID,
			SubsweepIndexes: []int{0, 1},
			Config: ProcessorConfig{
				ThresholdMethod: ThresholdRecorded,
				MeasurementType: CloseRange,
			},
		})
		groupIndex++
	}

	if len(plans.farRange) > 0 {
		sc, subsweepIndexSets := farPlansToSensorConfig(plans.farRange)
		session.Groups = append(session.Groups, map[int]pcradar.SensorConfig{sensorID: sc})

		pc := ProcessorConfig{
			ThresholdMethod:      cfg.ThresholdMethod,
			MeasurementType:      FarRange,
			FixedThresholdValue:  cfg.FixedThresholdValue,
			ThresholdSensitivity: cfg.ThresholdSensitivity,
			CFAROneSided:         cfg.CFAROneSided,
		}
		for _, indexes := range subsweepIndexSets {
			specs = append(specs, ProcessorSpec{
				GroupIndex:      groupIndex,
				SensorID:        sensorID,
				SubsweepIndexes: indexes,
				Config:          pc,
			})
		}
	}

	return session, specs, nil
}

// createGroupPlans computes close-range and far-range acquisition group
// plans from a user-level config.
func createGroupPlans(cfg DetectorConfig) (groupPlans, error) {
	effMinDist := effectiveMinDistM(cfg)
	transitionM := effMinDist[0]
	maxProfileMinDist := effMinDist[int(cfg.MaxProfile)-1]

	var plans groupPlans

	if cfg.StartM < transitionM {
		profile := pcradar.Profile1
		stepLength := limitStepLength(profile, cfg.MaxStepLength)
		bpts, err := mToPoints([]float64{cfg.StartM, transitionM}, stepLength)
		if err != nil {
			return groupPlans{}, err
		}
		hwaas := calcHWAAS(profile, bpts, cfg.SignalQuality)
		extended := addMarginToBreakpoints(
			profile, stepLength, bpts, false, transitionM < cfg.EndM, cfg.ThresholdMethod)

		plans.closeRange = append(plans.closeRange, AcquisitionGroupPlan{
			StepLength:  stepLength,
			Breakpoints: extended,
			Profile:     profile,
			HWAAS:       hwaas,
		})
	}

	farStartM := math.Max(cfg.StartM, transitionM)
	intermediateEndM := math.Min(cfg.EndM, maxProfileMinDist)
	if cfg.MaxProfile != pcradar.Profile1 && farStartM < intermediateEndM {
		// The most capable profile already usable at the far-range start.
		profile := pcradar.Profile1
		for _, p := range pcradar.Profiles() {
			if p > cfg.MaxProfile {
				break
			}
			if effMinDist[int(p)-1] <= farStartM {
				profile = p
			}
		}

		endM := intermediateEndM
		stepLength := limitStepLength(profile, cfg.MaxStepLength)
		bpts, err := mToPoints([]float64{farStartM, endM}, stepLength)
		if err != nil {
			return groupPlans{}, err
		}
		hwaas := calcHWAAS(profile, bpts, cfg.SignalQuality)
		extended := addMarginToBreakpoints(
			profile, stepLength, bpts,
			len(plans.closeRange) != 0, maxProfileMinDist < endM, cfg.ThresholdMethod)

		plans.farRange = append(plans.farRange, AcquisitionGroupPlan{
			StepLength:  stepLength,
			Breakpoints: extended,
			Profile:     profile,
			HWAAS:       hwaas,
		})
	}

	remainderStartM := math.Max(farStartM, maxProfileMinDist)
	if remainderStartM < cfg.EndM {
		// Subdivide the remaining span evenly across the subsweep slots
		// the group still has free.
		numBpts := pcradar.MaxSubsweepsPerConfig + 1 - len(plans.farRange)
		bptsM := linspace(remainderStartM, cfg.EndM, numBpts)

		profile := cfg.MaxProfile
		stepLength := limitStepLength(profile, cfg.MaxStepLength)
		bpts, err := mToPoints(bptsM, stepLength)
		if err != nil {
			return groupPlans{}, err
		}
		hwaas := calcHWAAS(profile, bpts, cfg.SignalQuality)
		extended := addMarginToBreakpoints(
			profile, stepLength, bpts,
			len(plans.closeRange) != 0 || len(plans.farRange) != 0, false, cfg.ThresholdMethod)

		plans.farRange = append(plans.farRange, AcquisitionGroupPlan{
			StepLength:  stepLength,
			Breakpoints: extended,
			Profile:     profile,
			HWAAS:       hwaas,
		})
	}

	if len(plans.closeRange) == 0 && len(plans.farRange) == 0 {
		return groupPlans{}, configErrorf("range %.3f-%.3f m yields no measurable segments",
			cfg.StartM, cfg.EndM)
	}

	return plans, nil
}

// effectiveMinDistM returns each profile's minimum measurable distance
// with, for the adaptive threshold only, the CFAR edge margin at that
// profile's natural step length added on top.
func effectiveMinDistM(cfg DetectorConfig) [5]float64 {
	var out [5]float64
	for i, p := range pcradar.Profiles() {
		out[i] = p.MinDistM()
		if cfg.ThresholdMethod == ThresholdCFAR {
			stepLength := limitStepLength(p, cfg.MaxStepLength)
			out[i] += float64(cfarMargin(p, stepLength)*stepLength) * pcradar.ApproxBaseStepLengthM
		}
	}
	return out
}

// limitStepLength chooses the coarsest step length that keeps at least
// minPointsInEnvelopeFWHM samples across the profile's envelope FWHM,
// capped by the caller's limit, snapped down to the nearest valid device
// step length.
func limitStepLength(profile pcradar.Profile, userLimit int) int {
	fwhmP := profile.EnvelopeWidthM() / pcradar.ApproxBaseStepLengthM
	limit := int(fwhmP / minPointsInEnvelopeFWHM)

	if userLimit > 0 && userLimit < limit {
		limit = userLimit
	}

	if limit >= pointsPerCoarseStep {
		return (limit / pointsPerCoarseStep) * pointsPerCoarseStep
	}
	step := validCoarseStepLengths[0]
	for _, s := range validCoarseStepLengths {
		if s <= limit {
			step = s
		}
	}
	return step
}

// calcHWAAS derives the hardware-average count per segment from the link
// budget: the target radar loop gain at the segment's far edge divided by
// the profile's gain per average, clamped to the device range.
func calcHWAAS(profile pcradar.Profile, breakpoints []int, signalQuality float64) []int {
	hwaas := make([]int, 0, len(breakpoints)-1)
	for i := 0; i+1 < len(breakpoints); i++ {
		endM := pcradar.ApproxBaseStepLengthM * float64(breakpoints[i+1])
		rlg := signalQuality + 40*math.Log10(endM)
		n := int(math.Pow(10, (rlg-profile.RLGPerHWAAS())/10))
		if n < minHWAAS {
			n = minHWAAS
		}
		if n > maxHWAAS {
			n = maxHWAAS
		}
		hwaas = append(hwaas, n)
	}
	return hwaas
}

// addMarginToBreakpoints pads the outer edges of a segment chain with the
// filter-initialization margin, doubled on edges shared with a
// neighbouring segment so adjacent envelopes overlap, plus the CFAR edge
// margin when the adaptive threshold is in use.
func addMarginToBreakpoints(profile pcradar.Profile, stepLength int, base []int, leftNeighbour, rightNeighbour bool, method ThresholdMethod) []int {
	marginP := filterEdgeMargin(profile, stepLength) * stepLength
	left, right := marginP, marginP
	if leftNeighbour {
		left += marginP
	}
	if rightNeighbour {
		right += marginP
	}
	if method == ThresholdCFAR {
		cm := cfarMargin(profile, stepLength) * stepLength
		left += cm
		right += cm
	}

	out := make([]int, len(base))
	copy(out, base)
	out[0] -= left
	out[len(out)-1] += right
	return out
}

// mToPoints converts breakpoints in meters to device points, truncating
// to the active step length. Degenerate segments (zero points after
// truncation) are a configuration error.
func mToPoints(bptsM []float64, stepLength int) ([]int, error) {
	startM := bptsM[0]
	startPoint := float64(int(startM / pcradar.ApproxBaseStepLengthM))

	out := make([]int, len(bptsM))
	for i, m := range bptsM {
		v := (m-startM)/pcradar.ApproxBaseStepLengthM + startPoint
		out[i] = int(math.Floor(v/float64(stepLength))) * stepLength
	}
	for i := 0; i+1 < len(out); i++ {
		if out[i+1] <= out[i] {
			return nil, configErrorf(
				"segment %.3f-%.3f m degenerates to zero points at step length %d",
				bptsM[i], bptsM[i+1], stepLength)
		}
	}
	return out, nil
}

// selectPRF picks the highest-frequency PRF whose unambiguous range
// exceeds the segment's far edge. The top tier is only available to the
// two shortest profiles.
func selectPRF(breakpoint int, profile pcradar.Profile) pcradar.PRF {
	breakpointM := float64(breakpoint) * pcradar.ApproxBaseStepLengthM

	best := pcradar.PRF6_5MHz
	for _, prf := range pcradar.PRFs() {
		if prf == pcradar.PRF19_5MHz && profile != pcradar.Profile1 && profile != pcradar.Profile2 {
			continue
		}
		if breakpointM < prf.MaxMeasDistM() {
			return prf
		}
	}
	return best
}

// closePlanToSensorConfig builds the close-range acquisition group: a
// zero-distance loopback reference subsweep followed by the ranging
// subsweep.
func closePlanToSensorConfig(plan AcquisitionGroupPlan) pcradar.SensorConfig {
	subsweeps := []pcradar.SubsweepConfig{
		{
			StartPoint:       0,
			NumPoints:        1,
			StepLength:       1,
			Profile:          pcradar.Profile4,
			HWAAS:            plan.HWAAS[0],
			ReceiverGain:     closeRangeLoopbackGain,
			PRF:              pcradar.PRF13_0MHz,
			PhaseEnhancement: true,
			EnableLoopback:   true,
		},
		{
			StartPoint:       plan.Breakpoints[0],
			NumPoints:        (plan.Breakpoints[1] - plan.Breakpoints[0]) / plan.StepLength,
			StepLength:       plan.StepLength,
			Profile:          plan.Profile,
			HWAAS:            plan.HWAAS[0],
			ReceiverGain:     closeRangeGain,
			PRF:              selectPRF(plan.Breakpoints[1], plan.Profile),
			PhaseEnhancement: true,
		},
	}
	return pcradar.SensorConfig{Subsweeps: subsweeps, SweepsPerFrame: closeRangeSweepsPerFrame}
}

// farPlansToSensorConfig flattens far-range plans into one acquisition
// group's subsweeps and returns, per plan, the subsweep indexes its
// processor covers.
func farPlansToSensorConfig(plans []AcquisitionGroupPlan) (pcradar.SensorConfig, [][]int) {
	var subsweeps []pcradar.SubsweepConfig
	var indexSets [][]int
	subsweepIdx := 0

	for _, plan := range plans {
		var indexes []int
		for i := 0; i+1 < len(plan.Breakpoints); i++ {
			subsweeps = append(subsweeps, pcradar.SubsweepConfig{
				StartPoint:       plan.Breakpoints[i],
				NumPoints:        (plan.Breakpoints[i+1] - plan.Breakpoints[i]) / plan.StepLength,
				StepLength:       plan.StepLength,
				Profile:          plan.Profile,
				HWAAS:            plan.HWAAS[i],
				ReceiverGain:     farRangeGain,
				PRF:              selectPRF(plan.Breakpoints[i+1], plan.Profile),
				PhaseEnhancement: true,
			})
			indexes = append(indexes, subsweepIdx)
			subsweepIdx++
		}
		indexSets = append(indexSets, indexes)
	}

	return pcradar.SensorConfig{Subsweeps: subsweeps, SweepsPerFrame: farRangeSweepsPerFrame}, indexSets
}

func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}
