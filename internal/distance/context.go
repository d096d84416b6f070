package distance

import "github.com/banshee-data/distance.report/internal/pcradar"

// DetectorContext holds calibration state across runs: the direct
// leakage and phase jitter reference from close-range calibration, the
// recorded thresholds (one per processor spec), and the session
// configuration each calibration was captured under. It is mutated only
// by the two calibration operations, with copy-on-calibrate semantics: a
// failed calibration never touches prior valid state.
type DetectorContext struct {
	DirectLeakage      []complex128
	PhaseJitterCompRef []float64
	RecordedThresholds [][]float64

	RecordedThresholdSessionUsed *pcradar.SessionConfig
	CloseRangeSessionUsed        *pcradar.SessionConfig
}

func (c *DetectorContext) closeRangeCalibrated() bool {
	return c.DirectLeakage != nil && c.PhaseJitterCompRef != nil
}

func (c *DetectorContext) recordedThresholdCalibrated() bool {
	return c.RecordedThresholds != nil
}

// DetectorContextSnapshot is the serializable form of a DetectorContext:
// scalars and flat numeric arrays only, for external storage.
type DetectorContextSnapshot struct {
	DirectLeakageRe    []float64   `json:"direct_leakage_re,omitempty"`
	DirectLeakageIm    []float64   `json:"direct_leakage_im,omitempty"`
	PhaseJitterCompRef []float64   `json:"phase_jitter_comp_ref,omitempty"`
	RecordedThresholds [][]float64 `json:"recorded_thresholds,omitempty"`

	RecordedThresholdSessionUsed *pcradar.SessionConfig `json:"recorded_threshold_session_config,omitempty"`
	CloseRangeSessionUsed        *pcradar.SessionConfig `json:"close_range_session_config,omitempty"`
}

// Snapshot converts the context to its serializable form.
func (c *DetectorContext) Snapshot() DetectorContextSnapshot {
	s := DetectorContextSnapshot{
		PhaseJitterCompRef:           c.PhaseJitterCompRef,
		RecordedThresholds:           c.RecordedThresholds,
		RecordedThresholdSessionUsed: c.RecordedThresholdSessionUsed,
		CloseRangeSessionUsed:        c.CloseRangeSessionUsed,
	}
	if c.DirectLeakage != nil {
		s.DirectLeakageRe = make([]float64, len(c.DirectLeakage))
		s.DirectLeakageIm = make([]float64, len(c.DirectLeakage))
		for i, v := range c.DirectLeakage {
			s.DirectLeakageRe[i] = real(v)
			s.DirectLeakageIm[i] = imag(v)
		}
	}
	return s
}

// ContextFromSnapshot rebuilds a DetectorContext from its serializable
// form.
func ContextFromSnapshot(s DetectorContextSnapshot) *DetectorContext {
	c := &DetectorContext{
		PhaseJitterCompRef:           s.PhaseJitterCompRef,
		RecordedThresholds:           s.RecordedThresholds,
		RecordedThresholdSessionUsed: s.RecordedThresholdSessionUsed,
		CloseRangeSessionUsed:        s.CloseRangeSessionUsed,
	}
	if s.DirectLeakageRe != nil {
		c.DirectLeakage = make([]complex128, len(s.DirectLeakageRe))
		for i := range s.DirectLeakageRe {
			im := 0.0
			if i < len(s.DirectLeakageIm) {
				im = s.DirectLeakageIm[i]
			}
			c.DirectLeakage[i] = complex(s.DirectLeakageRe[i], im)
		}
	}
	return c
}
