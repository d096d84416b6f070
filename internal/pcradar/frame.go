package pcradar

import "fmt"

// Result is the raw output of one acquisition group for one sensor in one
// frame: a sweeps x points matrix of complex IQ samples.
type Result struct {
	Frame [][]complex128
}

// NumSweeps returns the number of sweeps in the frame.
func (r Result) NumSweeps() int { return len(r.Frame) }

// NumPoints returns the number of points per sweep, or 0 for an empty frame.
func (r Result) NumPoints() int {
	if len(r.Frame) == 0 {
		return 0
	}
	return len(r.Frame[0])
}

// GroupResult maps sensor id to that sensor's result for one group.
type GroupResult map[int]Result

// SubsweepSlice extracts the columns belonging to the given subsweep
// indexes from a full-group frame. The subsweeps must be a subset of the
// group's configuration; columns are returned in subsweep order.
func (r Result) SubsweepSlice(cfg SensorConfig, indexes []int) (Result, error) {
	offsets := make([]int, len(cfg.Subsweeps)+1)
	for i, s := range cfg.Subsweeps {
		offsets[i+1] = offsets[i] + s.NumPoints
	}
	if r.NumPoints() != offsets[len(cfg.Subsweeps)] {
		return Result{}, fmt.Errorf("frame has %d points, config expects %d",
			r.NumPoints(), offsets[len(cfg.Subsweeps)])
	}

	total := 0
	for _, idx := range indexes {
		if idx < 0 || idx >= len(cfg.Subsweeps) {
			return Result{}, fmt.Errorf("subsweep index %d out of range [0,%d)", idx, len(cfg.Subsweeps))
		}
		total += cfg.Subsweeps[idx].NumPoints
	}

	out := make([][]complex128, r.NumSweeps())
	for s := range out {
		row := make([]complex128, 0, total)
		for _, idx := range indexes {
			row = append(row, r.Frame[s][offsets[idx]:offsets[idx+1]]...)
		}
		out[s] = row
	}
	return Result{Frame: out}, nil
}

// MeanSweep averages the frame across sweeps, returning one complex value
// per point.
func (r Result) MeanSweep() []complex128 {
	n := r.NumSweeps()
	if n == 0 {
		return nil
	}
	mean := make([]complex128, r.NumPoints())
	for _, sweep := range r.Frame {
		for p, v := range sweep {
			mean[p] += v
		}
	}
	inv := complex(1/float64(n), 0)
	for p := range mean {
		mean[p] *= inv
	}
	return mean
}
