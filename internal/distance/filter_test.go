package distance

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

func TestDistanceFilterCoeffsUnityDCGain(t *testing.T) {
	for _, p := range pcradar.Profiles() {
		for _, step := range []int{1, 2, 4, 24} {
			c := distanceFilterCoeffs(p, step)
			gain := (c.b[0] + c.b[1] + c.b[2]) / (c.a[0] + c.a[1] + c.a[2])
			if math.Abs(gain-1) > 1e-9 {
				t.Errorf("%v step %d: DC gain %v, want 1", p, step, gain)
			}
		}
	}
}

func TestFilterEdgeMargin(t *testing.T) {
	cases := []struct {
		profile pcradar.Profile
		step    int
		want    int
	}{
		{pcradar.Profile1, 4, 4},   // 0.04 m over 10 mm steps
		{pcradar.Profile5, 24, 6},  // 0.32 m over 60 mm steps, rounded up
		{pcradar.Profile3, 1, 56},  // 0.14 m over 2.5 mm steps
		{pcradar.Profile1, 24, 1},  // envelope narrower than one step
	}
	for _, c := range cases {
		if got := filterEdgeMargin(c.profile, c.step); got != c.want {
			t.Errorf("filterEdgeMargin(%v, %d) = %d, want %d", c.profile, c.step, got, c.want)
		}
	}
}

func TestFiltfiltPreservesConstant(t *testing.T) {
	c := distanceFilterCoeffs(pcradar.Profile3, 4)
	x := make([]complex128, 64)
	for i := range x {
		x[i] = complex(5, -2)
	}
	y := c.filtfilt(x)
	if len(y) != len(x) {
		t.Fatalf("output length %d, want %d", len(y), len(x))
	}
	for i, v := range y {
		if cmplx.Abs(v-complex(5, -2)) > 1e-6 {
			t.Fatalf("y[%d] = %v, want (5-2i)", i, v)
		}
	}
}

func TestFiltfiltAttenuatesAlternatingSignal(t *testing.T) {
	c := distanceFilterCoeffs(pcradar.Profile5, 1) // very low cutoff
	x := make([]complex128, 128)
	for i := range x {
		if i%2 == 0 {
			x[i] = 1
		} else {
			x[i] = -1
		}
	}
	y := c.filtfilt(x)
	mid := y[len(y)/2]
	if cmplx.Abs(mid) > 0.01 {
		t.Errorf("Nyquist-rate input not attenuated: |y| = %v", cmplx.Abs(mid))
	}
}

func TestFiltfiltShortInput(t *testing.T) {
	c := distanceFilterCoeffs(pcradar.Profile1, 4)

	if got := c.filtfilt(nil); got != nil {
		t.Errorf("filtfilt(nil) = %v, want nil", got)
	}

	x := []complex128{1, 2, 3}
	y := c.filtfilt(x)
	if len(y) != 3 {
		t.Errorf("filtfilt on 3 samples returned %d samples", len(y))
	}
}
