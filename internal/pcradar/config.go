// Package pcradar models the acquisition interface of a pulsed coherent
// radar sensor: subsweep-level configuration, session setup, and the raw
// IQ frames it streams back. It is the shared vocabulary between the
// range planner (which builds configurations) and the link layer (which
// executes them).
package pcradar

import "fmt"

// ApproxBaseStepLengthM is the nominal distance between two adjacent
// measurement points at step length 1. The exact value is reported by the
// sensor in Metadata after session setup.
const ApproxBaseStepLengthM = 2.5e-3

// MaxSubsweepsPerConfig is the hardware limit on subsweeps in one
// acquisition group slot.
const MaxSubsweepsPerConfig = 4

// Profile selects the hardware pulse shape. Longer profiles carry more
// energy (better SNR at range) at the cost of a wider envelope and a
// longer minimum measurable distance.
type Profile uint8

const (
	Profile1 Profile = iota + 1
	Profile2
	Profile3
	Profile4
	Profile5
)

const numProfiles = 5

// profile-indexed physical constants. Indexed by Profile-1; kept as fixed
// arrays so an invalid profile is unrepresentable at lookup time.
var (
	envelopeWidthM = [numProfiles]float64{0.04, 0.07, 0.14, 0.19, 0.32}
	minDistM       = [numProfiles]float64{0.10, 0.28, 0.56, 0.76, 1.28}
	rlgPerHWAAS    = [numProfiles]float64{11.3, 13.7, 19.0, 20.5, 21.6}
)

// Valid reports whether p is one of the five defined profiles.
func (p Profile) Valid() bool { return p >= Profile1 && p <= Profile5 }

func (p Profile) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Profile(%d)", uint8(p))
	}
	return fmt.Sprintf("profile_%d", uint8(p))
}

// EnvelopeWidthM returns the full-width-half-max of the pulse envelope in
// meters for the profile.
func (p Profile) EnvelopeWidthM() float64 { return envelopeWidthM[p.index()] }

// MinDistM returns the shortest distance measurable free of direct
// leakage for the profile, before any threshold margin is applied.
func (p Profile) MinDistM() float64 { return minDistM[p.index()] }

// RLGPerHWAAS returns the radar loop gain contributed per unit of
// hardware averaging (dB), used by the link-budget HWAAS calculation.
func (p Profile) RLGPerHWAAS() float64 { return rlgPerHWAAS[p.index()] }

func (p Profile) index() int {
	if !p.Valid() {
		panic(fmt.Sprintf("pcradar: invalid profile %d", uint8(p)))
	}
	return int(p) - 1
}

// Profiles returns all profiles in ascending order.
func Profiles() []Profile {
	return []Profile{Profile1, Profile2, Profile3, Profile4, Profile5}
}

// PRF is the pulse repetition frequency tier. A higher PRF shortens
// acquisition time but bounds the unambiguous measurable distance.
type PRF uint8

const (
	PRF19_5MHz PRF = iota
	PRF13_0MHz
	PRF8_7MHz
	PRF6_5MHz
)

const numPRFs = 4

var (
	prfFrequencyHz  = [numPRFs]float64{19.5e6, 13.0e6, 8.7e6, 6.5e6}
	prfMaxMeasDistM = [numPRFs]float64{3.1, 7.0, 12.7, 18.5}
	prfNames        = [numPRFs]string{"19.5MHz", "13.0MHz", "8.7MHz", "6.5MHz"}
)

// Valid reports whether f is a defined PRF tier.
func (f PRF) Valid() bool { return int(f) < numPRFs }

func (f PRF) String() string {
	if !f.Valid() {
		return fmt.Sprintf("PRF(%d)", uint8(f))
	}
	return prfNames[f]
}

// FrequencyHz returns the pulse repetition frequency in Hz.
func (f PRF) FrequencyHz() float64 { return prfFrequencyHz[f] }

// MaxMeasDistM returns the unambiguous measurable distance for the tier.
func (f PRF) MaxMeasDistM() float64 { return prfMaxMeasDistM[f] }

// PRFs returns all PRF tiers in descending frequency order.
func PRFs() []PRF {
	return []PRF{PRF19_5MHz, PRF13_0MHz, PRF8_7MHz, PRF6_5MHz}
}

// SubsweepConfig describes one hardware-level contiguous run of distance
// points sharing a single profile, step length, gain and PRF.
type SubsweepConfig struct {
	StartPoint       int     `json:"start_point"`
	NumPoints        int     `json:"num_points"`
	StepLength       int     `json:"step_length"`
	Profile          Profile `json:"profile"`
	HWAAS            int     `json:"hwaas"`
	ReceiverGain     int     `json:"receiver_gain"`
	PRF              PRF     `json:"prf"`
	PhaseEnhancement bool    `json:"phase_enhancement"`
	EnableLoopback   bool    `json:"enable_loopback"`
}

// EndPoint returns the first point index past the subsweep's range.
func (c SubsweepConfig) EndPoint() int {
	return c.StartPoint + c.NumPoints*c.StepLength
}

// Validate checks the subsweep against hardware constraints.
func (c SubsweepConfig) Validate() error {
	if c.NumPoints <= 0 {
		return fmt.Errorf("subsweep num_points must be positive, got %d", c.NumPoints)
	}
	if c.StepLength <= 0 {
		return fmt.Errorf("subsweep step_length must be positive, got %d", c.StepLength)
	}
	if !c.Profile.Valid() {
		return fmt.Errorf("subsweep has invalid profile %d", uint8(c.Profile))
	}
	if !c.PRF.Valid() {
		return fmt.Errorf("subsweep has invalid prf %d", uint8(c.PRF))
	}
	if c.HWAAS <= 0 {
		return fmt.Errorf("subsweep hwaas must be positive, got %d", c.HWAAS)
	}
	return nil
}

// SensorConfig is one acquisition group slot: up to four subsweeps issued
// together, swept SweepsPerFrame times per frame.
type SensorConfig struct {
	Subsweeps      []SubsweepConfig `json:"subsweeps"`
	SweepsPerFrame int              `json:"sweeps_per_frame"`
}

// NumPoints returns the total point count across all subsweeps.
func (c SensorConfig) NumPoints() int {
	n := 0
	for _, s := range c.Subsweeps {
		n += s.NumPoints
	}
	return n
}

// Validate checks the group against hardware constraints.
func (c SensorConfig) Validate() error {
	if len(c.Subsweeps) == 0 {
		return fmt.Errorf("sensor config has no subsweeps")
	}
	if len(c.Subsweeps) > MaxSubsweepsPerConfig {
		return fmt.Errorf("sensor config has %d subsweeps, max is %d",
			len(c.Subsweeps), MaxSubsweepsPerConfig)
	}
	if c.SweepsPerFrame <= 0 {
		return fmt.Errorf("sweeps_per_frame must be positive, got %d", c.SweepsPerFrame)
	}
	for i, s := range c.Subsweeps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("subsweep %d: %w", i, err)
		}
	}
	return nil
}

// SessionConfig is an ordered list of acquisition groups, each mapping a
// sensor id to the group's configuration.
type SessionConfig struct {
	Groups []map[int]SensorConfig `json:"groups"`
}

// Validate checks every group in the session.
func (c SessionConfig) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("session config has no groups")
	}
	for gi, group := range c.Groups {
		if len(group) == 0 {
			return fmt.Errorf("group %d is empty", gi)
		}
		for sensorID, sc := range group {
			if err := sc.Validate(); err != nil {
				return fmt.Errorf("group %d sensor %d: %w", gi, sensorID, err)
			}
		}
	}
	return nil
}

// Equal reports structural equality of two session configurations:
// same group order, same sensor ids, identical subsweep layout. This is
// the comparison used to detect stale calibration data.
func (c SessionConfig) Equal(o SessionConfig) bool {
	if len(c.Groups) != len(o.Groups) {
		return false
	}
	for gi := range c.Groups {
		a, b := c.Groups[gi], o.Groups[gi]
		if len(a) != len(b) {
			return false
		}
		for sensorID, sa := range a {
			sb, ok := b[sensorID]
			if !ok {
				return false
			}
			if sa.SweepsPerFrame != sb.SweepsPerFrame {
				return false
			}
			if len(sa.Subsweeps) != len(sb.Subsweeps) {
				return false
			}
			for si := range sa.Subsweeps {
				if sa.Subsweeps[si] != sb.Subsweeps[si] {
					return false
				}
			}
		}
	}
	return true
}

// Metadata is reported by the sensor for each configured group after
// session setup.
type Metadata struct {
	BaseStepLengthM float64 `json:"base_step_length_m"`
	SweepRateHz     float64 `json:"sweep_rate_hz,omitempty"`
}
