package distance

import "math"

// findPeaks scans the envelope left to right against the threshold and
// returns the indexes of local maxima that cross the threshold on both
// flanks. A candidate opens where the current sample exceeds threshold,
// the previous sample does not, and the previous sample is strictly
// below the current one; the scan then widens forward while samples stay
// above threshold without rising past the candidate maximum, and the
// index of the maximum over that run is recorded. A run that hits the
// array edge or an undefined-threshold region before the envelope drops
// back under the threshold is discarded as ambiguous.
func findPeaks(absSweep, threshold []float64) []int {
	var found []int
	n := len(absSweep)
	d := 1
	for d < n-1 {
		if math.IsNaN(threshold[d-1]) {
			d++
			continue
		}
		if math.IsNaN(threshold[d+1]) {
			break
		}
		if absSweep[d] <= threshold[d] {
			d += 2
			continue
		}
		if absSweep[d-1] <= threshold[d-1] {
			d++
			continue
		}
		if absSweep[d-1] >= absSweep[d] {
			d++
			continue
		}
		dUpper := d + 1
		for {
			if dUpper >= n-1 {
				break
			}
			if math.IsNaN(threshold[dUpper]) {
				break
			}
			if absSweep[dUpper] <= threshold[dUpper] {
				break
			}
			if absSweep[dUpper] > absSweep[d] {
				break
			}
			if absSweep[dUpper] < absSweep[d] {
				found = append(found, argmax(absSweep[d:dUpper])+d)
				break
			}
			dUpper++
		}
		d = dUpper
	}
	return found
}

func argmax(s []float64) int {
	best := 0
	for i, v := range s {
		if v > s[best] {
			best = i
		}
	}
	return best
}

// interpolatePeaks fits a quadratic through the three samples centered on
// each peak (closed-form Lagrange coefficients) and reports the vertex as
// a sub-sample distance/amplitude pair. startPoint and stepLength are in
// device points; baseStepLengthM converts points to meters.
func interpolatePeaks(absSweep []float64, peakIdxs []int, startPoint, stepLength int, baseStepLengthM float64) (distances, amplitudes []float64) {
	for _, idx := range peakIdxs {
		x0, x1, x2 := float64(idx-1), float64(idx), float64(idx+1)
		y0, y1, y2 := absSweep[idx-1], absSweep[idx], absSweep[idx+1]

		a := (x0*(y2-y1) + x1*(y0-y2) + x2*(y1-y0)) /
			((x0 - x1) * (x0 - x2) * (x1 - x2))
		b := (y1-y0)/(x1-x0) - a*(x0+x1)
		c := y0 - a*x0*x0 - b*x0

		vertex := -b / (2 * a)
		distances = append(distances,
			(float64(startPoint)+vertex*float64(stepLength))*baseStepLengthM)
		amplitudes = append(amplitudes, a*vertex*vertex+b*vertex+c)
	}
	return distances, amplitudes
}
