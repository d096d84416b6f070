package distance

import (
	"math"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

// filterCoeffs holds the transfer function of the 2-pole low-pass used to
// shape the sweep into an amplitude envelope.
type filterCoeffs struct {
	b [3]float64
	a [3]float64 // a[0] is always 1
}

// distanceFilterCoeffs designs a second-order Butterworth low-pass whose
// normalized cutoff tracks the ratio of the step length to the profile's
// envelope width: coarser steps relative to the envelope push the cutoff
// up, finer steps push it down.
func distanceFilterCoeffs(profile pcradar.Profile, stepLength int) filterCoeffs {
	wn := pcradar.ApproxBaseStepLengthM * float64(stepLength) / profile.EnvelopeWidthM()

	// Bilinear transform of the analog 2-pole Butterworth prototype.
	// wn is normalized to Nyquist, matching the conventional design form.
	k := math.Tan(math.Pi * wn / 2)
	k2 := k * k
	norm := 1 / (1 + math.Sqrt2*k + k2)

	var c filterCoeffs
	c.b[0] = k2 * norm
	c.b[1] = 2 * c.b[0]
	c.b[2] = c.b[0]
	c.a[0] = 1
	c.a[1] = 2 * (k2 - 1) * norm
	c.a[2] = (1 - math.Sqrt2*k + k2) * norm
	return c
}

// filterEdgeMargin returns the number of samples the filter transient
// occupies at each edge of a sweep: one envelope width, rounded up to
// whole steps.
func filterEdgeMargin(profile pcradar.Profile, stepLength int) int {
	return int(math.Ceil(profile.EnvelopeWidthM() /
		(pcradar.ApproxBaseStepLengthM * float64(stepLength))))
}

// lfilter applies the IIR filter in direct form II transposed. It works
// on complex data; the real and imaginary parts see the same real-valued
// coefficients.
func (c filterCoeffs) lfilter(x []complex128) []complex128 {
	y := make([]complex128, len(x))
	b0 := complex(c.b[0], 0)
	b1 := complex(c.b[1], 0)
	b2 := complex(c.b[2], 0)
	a1 := complex(c.a[1], 0)
	a2 := complex(c.a[2], 0)

	var z1, z2 complex128
	for i, v := range x {
		out := b0*v + z1
		z1 = b1*v + z2 - a1*out
		z2 = b2*v - a2*out
		y[i] = out
	}
	return y
}

// filtfilt applies the filter forward and backward for zero phase
// distortion. The input is extended at both ends by odd reflection so
// the filter state settles before it reaches real data; the extension is
// cropped from the returned slice.
func (c filterCoeffs) filtfilt(x []complex128) []complex128 {
	if len(x) == 0 {
		return nil
	}

	padLen := 9 // 3x filter order on each side, as is conventional
	if padLen >= len(x) {
		padLen = len(x) - 1
	}

	ext := make([]complex128, 0, len(x)+2*padLen)
	first, last := x[0], x[len(x)-1]
	for i := padLen; i >= 1; i-- {
		ext = append(ext, 2*first-x[i])
	}
	ext = append(ext, x...)
	for i := len(x) - 2; i >= len(x)-1-padLen; i-- {
		ext = append(ext, 2*last-x[i])
	}

	fwd := c.lfilter(ext)
	reverse(fwd)
	bwd := c.lfilter(fwd)
	reverse(bwd)

	return bwd[padLen : padLen+len(x)]
}

func reverse(s []complex128) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
