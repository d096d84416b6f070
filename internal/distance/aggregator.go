package distance

import (
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

// PeakSorting orders the fused distance list.
type PeakSorting int

const (
	// SortStrongest puts the highest-amplitude peak first.
	SortStrongest PeakSorting = iota
	// SortClosest puts the shortest distance first.
	SortClosest
)

func (s PeakSorting) String() string {
	switch s {
	case SortStrongest:
		return "strongest"
	case SortClosest:
		return "closest"
	}
	return "unknown"
}

// ParsePeakSorting maps a config string to a PeakSorting.
func ParsePeakSorting(s string) (PeakSorting, bool) {
	switch s {
	case "strongest":
		return SortStrongest, true
	case "closest":
		return SortClosest, true
	}
	return 0, false
}

// AggregatorConfig tunes result fusion.
type AggregatorConfig struct {
	PeakSorting PeakSorting
}

// AggregatorResult is the fused output of all processing units for one
// frame.
type AggregatorResult struct {
	Distances  []float64
	Amplitudes []float64

	ProcessorResults []ProcessorResult

	// Leakage-calibration outputs; only set when a close-range spec runs
	// in that mode.
	DirectLeakage      []complex128
	PhaseJitterCompRef []float64

	// ServiceResult is the raw frame the result was derived from.
	ServiceResult []pcradar.GroupResult
}

// Aggregator runs every processor spec against its slice of the frame
// and fuses the outputs into one ranked distance list. It also owns all
// close-range leakage math: deriving the direct leakage and phase jitter
// reference during leakage calibration, and cancelling the leakage from
// close-range frames (rotated to the current sweep's loopback phase)
// before those frames reach their processor.
type Aggregator struct {
	session    pcradar.SessionConfig
	cfg        AggregatorConfig
	specs      []ProcessorSpec
	processors []*Processor // nil entry for leakage-calibration specs
}

// NewAggregator builds one processing unit per spec. Specs in leakage
// calibration mode get no processing unit; they are pure pass-throughs
// handled by the aggregator itself.
func NewAggregator(session pcradar.SessionConfig, metadata []map[int]pcradar.Metadata, cfg AggregatorConfig, specs []ProcessorSpec) (*Aggregator, error) {
	a := &Aggregator{
		session:    session,
		cfg:        cfg,
		specs:      specs,
		processors: make([]*Processor, len(specs)),
	}

	for i, spec := range specs {
		if spec.GroupIndex < 0 || spec.GroupIndex >= len(session.Groups) {
			return nil, configErrorf("spec %d references group %d of %d", i, spec.GroupIndex, len(session.Groups))
		}
		sensorConfig, ok := session.Groups[spec.GroupIndex][spec.SensorID]
		if !ok {
			return nil, configErrorf("spec %d references sensor %d not in group %d", i, spec.SensorID, spec.GroupIndex)
		}
		if spec.Config.Mode == LeakageCalibration {
			continue
		}
		md, ok := metadata[spec.GroupIndex][spec.SensorID]
		if !ok {
			return nil, configErrorf("no metadata for group %d sensor %d", spec.GroupIndex, spec.SensorID)
		}
		p, err := NewProcessor(sensorConfig, md, spec.Config, spec.SubsweepIndexes, spec.Context)
		if err != nil {
			return nil, err
		}
		a.processors[i] = p
	}
	return a, nil
}

// Process runs one extended frame through every spec and fuses the
// results.
func (a *Aggregator) Process(extendedResult []pcradar.GroupResult) (AggregatorResult, error) {
	if len(extendedResult) != len(a.session.Groups) {
		return AggregatorResult{}, configErrorf("frame has %d groups, session configured %d",
			len(extendedResult), len(a.session.Groups))
	}

	out := AggregatorResult{ServiceResult: extendedResult}

	for i, spec := range a.specs {
		result, ok := extendedResult[spec.GroupIndex][spec.SensorID]
		if !ok {
			return AggregatorResult{}, configErrorf("frame missing sensor %d in group %d",
				spec.SensorID, spec.GroupIndex)
		}

		if spec.Config.Mode == LeakageCalibration {
			leakage, phaseRef := a.deriveLeakage(spec, result)
			out.DirectLeakage = leakage
			out.PhaseJitterCompRef = phaseRef
			out.ProcessorResults = append(out.ProcessorResults, ProcessorResult{})
			continue
		}

		if spec.Config.MeasurementType == CloseRange && spec.Context != nil && spec.Context.DirectLeakage != nil {
			result = cancelLeakage(result, spec.Context.DirectLeakage, spec.Context.PhaseJitterCompRef)
		}

		pr, err := a.processors[i].Process(result)
		if err != nil {
			return AggregatorResult{}, err
		}
		out.ProcessorResults = append(out.ProcessorResults, pr)

		if spec.Config.Mode == DistanceEstimation {
			out.Distances = append(out.Distances, pr.Distances...)
			out.Amplitudes = append(out.Amplitudes, pr.Amplitudes...)
		}
	}

	sortPeaks(out.Distances, out.Amplitudes, a.cfg.PeakSorting)
	return out, nil
}

// deriveLeakage extracts the direct leakage and phase jitter reference
// from a raw close-range frame. The reference is the per-sweep phase of
// the loopback point; the leakage is the per-point complex mean of the
// ranging subsweep with each sweep derotated by its phase deviation from
// the frame's mean, so the stored leakage sits in the calibration
// reference frame that cancelLeakage rotates out of.
func (a *Aggregator) deriveLeakage(spec ProcessorSpec, result pcradar.Result) ([]complex128, []float64) {
	numSweeps := result.NumSweeps()
	numPoints := result.NumPoints()
	if numSweeps == 0 || numPoints < 2 {
		return nil, nil
	}

	phaseRef := make([]float64, numSweeps)
	for s, sweep := range result.Frame {
		phaseRef[s] = cmplx.Phase(sweep[0])
	}
	refPhase := stat.Mean(phaseRef, nil)

	leakage := make([]complex128, numPoints-1)
	for s, sweep := range result.Frame {
		rot := cmplx.Exp(complex(0, refPhase-phaseRef[s]))
		for p := 1; p < numPoints; p++ {
			leakage[p-1] += sweep[p] * rot
		}
	}
	inv := complex(1/float64(numSweeps), 0)
	for p := range leakage {
		leakage[p] *= inv
	}
	return leakage, phaseRef
}

// cancelLeakage subtracts the calibrated direct leakage from the ranging
// points of a close-range frame. Each sweep's copy of the leakage is
// rotated from the calibration-time loopback phase to the sweep's
// current loopback phase before subtraction.
func cancelLeakage(result pcradar.Result, directLeakage []complex128, phaseJitterCompRef []float64) pcradar.Result {
	refPhase := 0.0
	if len(phaseJitterCompRef) > 0 {
		refPhase = stat.Mean(phaseJitterCompRef, nil)
	}

	out := make([][]complex128, result.NumSweeps())
	for s, sweep := range result.Frame {
		row := make([]complex128, len(sweep))
		copy(row, sweep)
		phi := cmplx.Phase(sweep[0])
		rot := cmplx.Exp(complex(0, phi-refPhase))
		for p := 1; p < len(row) && p-1 < len(directLeakage); p++ {
			row[p] -= directLeakage[p-1] * rot
		}
		out[s] = row
	}
	return pcradar.Result{Frame: out}
}

func sortPeaks(distances, amplitudes []float64, method PeakSorting) {
	idx := make([]int, len(distances))
	for i := range idx {
		idx[i] = i
	}
	switch method {
	case SortClosest:
		sort.SliceStable(idx, func(i, j int) bool {
			return distances[idx[i]] < distances[idx[j]]
		})
	default: // SortStrongest
		sort.SliceStable(idx, func(i, j int) bool {
			return amplitudes[idx[i]] > amplitudes[idx[j]]
		})
	}

	d := make([]float64, len(distances))
	amp := make([]float64, len(amplitudes))
	for i, j := range idx {
		d[i] = distances[j]
		amp[i] = amplitudes[j]
	}
	copy(distances, d)
	copy(amplitudes, amp)
}
