package distance

import (
	"math"
	"testing"

	"github.com/banshee-data/distance.report/internal/pcradar"
)

func TestParseThresholdMethod(t *testing.T) {
	for _, m := range []ThresholdMethod{ThresholdCFAR, ThresholdFixed, ThresholdRecorded} {
		got, ok := ParseThresholdMethod(m.String())
		if !ok || got != m {
			t.Errorf("ParseThresholdMethod(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseThresholdMethod("bogus"); ok {
		t.Error("ParseThresholdMethod accepted an unknown name")
	}
}

func TestFixedThreshold(t *testing.T) {
	th := fixedThreshold(4, 150)
	if len(th) != 4 {
		t.Fatalf("len = %d, want 4", len(th))
	}
	for i, v := range th {
		if v != 150 {
			t.Errorf("th[%d] = %v, want 150", i, v)
		}
	}
}

func TestCFARThresholdFlatInput(t *testing.T) {
	c := cfarParams{guardHalf: 2, windowLen: 2, sensitivity: 1}
	abs := make([]float64, 12)
	for i := range abs {
		abs[i] = 10
	}
	th := c.threshold(abs, 0)

	margin := c.margin() - 1 // indexes 0..2 and 9..11 have incomplete windows
	for i := 0; i < margin; i++ {
		if !math.IsNaN(th[i]) {
			t.Errorf("th[%d] = %v, want NaN at left edge", i, th[i])
		}
		j := len(th) - 1 - i
		if !math.IsNaN(th[j]) {
			t.Errorf("th[%d] = %v, want NaN at right edge", j, th[j])
		}
	}
	for i := margin; i < len(th)-margin; i++ {
		if math.Abs(th[i]-10) > 1e-6 {
			t.Errorf("th[%d] = %v, want 10 for flat input at unit sensitivity", i, th[i])
		}
	}
}

func TestCFARThresholdSensitivityScaling(t *testing.T) {
	abs := make([]float64, 12)
	for i := range abs {
		abs[i] = 10
	}
	half := cfarParams{guardHalf: 2, windowLen: 2, sensitivity: 0.5}
	th := half.threshold(abs, 0)
	mid := len(th) / 2
	if math.Abs(th[mid]-20) > 1e-6 {
		t.Errorf("sensitivity 0.5 threshold = %v, want 20", th[mid])
	}
}

func TestCFARThresholdNoiseOffset(t *testing.T) {
	abs := make([]float64, 12)
	for i := range abs {
		abs[i] = 10
	}
	c := cfarParams{guardHalf: 2, windowLen: 2, sensitivity: 1}
	th := c.threshold(abs, 5)
	mid := len(th) / 2
	if math.Abs(th[mid]-15) > 1e-6 {
		t.Errorf("threshold with noise offset = %v, want 15", th[mid])
	}
}

func TestCFARThresholdOneSided(t *testing.T) {
	c := cfarParams{guardHalf: 2, windowLen: 2, sensitivity: 1, oneSided: true}
	abs := make([]float64, 12)
	for i := range abs {
		abs[i] = 10
	}
	th := c.threshold(abs, 0)

	// One-sided windows only look behind, so the right edge is defined.
	if math.IsNaN(th[len(th)-1]) {
		t.Error("one-sided threshold undefined at right edge")
	}
	if !math.IsNaN(th[0]) {
		t.Error("one-sided threshold defined at left edge")
	}
}

func TestCFARThresholdTooShortInput(t *testing.T) {
	c := cfarParams{guardHalf: 4, windowLen: 4, sensitivity: 1}
	th := c.threshold([]float64{1, 2, 3}, 0)
	for i, v := range th {
		if !math.IsNaN(v) {
			t.Errorf("th[%d] = %v, want NaN when no window fits", i, v)
		}
	}
}

func TestCFARMarginFollowsProfileGeometry(t *testing.T) {
	// Profile 1 at step length 4: guard round(0.08/2/0.01) = 4 plus
	// window round(0.01/0.01) = 1.
	if got := cfarMargin(pcradar.Profile1, 4); got != 5 {
		t.Errorf("cfarMargin(Profile1, 4) = %d, want 5", got)
	}
	// Profile 5 at step length 24: guard round(0.64/2/0.06) = 5 plus
	// window round(0.08/0.06) = 1.
	if got := cfarMargin(pcradar.Profile5, 24); got != 6 {
		t.Errorf("cfarMargin(Profile5, 24) = %d, want 6", got)
	}
}

func TestThresholdRecorderNeedsTwoSweeps(t *testing.T) {
	r := newThresholdRecorder(3, 0)
	if got := r.update([]float64{1, 1, 1}); got != nil {
		t.Fatalf("threshold after one sweep = %v, want nil", got)
	}
	if got := r.update([]float64{3, 3, 3}); got == nil {
		t.Fatal("no threshold after two sweeps")
	}
}

func TestThresholdRecorderMeanPlusStd(t *testing.T) {
	r := newThresholdRecorder(2, 3)
	r.update([]float64{1, 10})
	th := r.update([]float64{3, 10})
	if th == nil {
		t.Fatal("no threshold after two sweeps")
	}

	// First point: mean 2, unbiased sample std sqrt(2).
	want := 2 + 3*math.Sqrt2
	if math.Abs(th[0]-want) > 1e-9 {
		t.Errorf("th[0] = %v, want %v", th[0], want)
	}
	// Second point: no variance, threshold equals the mean.
	if math.Abs(th[1]-10) > 1e-9 {
		t.Errorf("th[1] = %v, want 10", th[1])
	}
}

func TestThresholdRecorderConverges(t *testing.T) {
	r := newThresholdRecorder(1, 2)
	var th []float64
	for i := 0; i < 100; i++ {
		// Alternating 4 and 6: mean 5, population std 1.
		v := 4.0
		if i%2 == 1 {
			v = 6.0
		}
		th = r.update([]float64{v})
	}
	// Unbiased std approaches 1 for large n.
	want := 5.0 + 2*1.0
	if math.Abs(th[0]-want) > 0.05 {
		t.Errorf("converged threshold %v, want near %v", th[0], want)
	}
}

func TestThresholdRecorderDefaultNumStd(t *testing.T) {
	r := newThresholdRecorder(1, 0)
	if r.numStd != DefaultNumStdDevs {
		t.Errorf("default numStd = %v, want %v", r.numStd, DefaultNumStdDevs)
	}
}
