package pcradar

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/distance.report/internal/timeutil"
)

// MockTarget is one synthetic reflector rendered by the mock link.
type MockTarget struct {
	DistanceM float64
	Amplitude float64
}

// MockLink is a deterministic in-memory Link used in dev mode and tests.
// It renders each configured subsweep from a set of point targets: every
// target contributes a Gaussian envelope whose width follows the
// subsweep's profile, on top of white noise and a near-sensor leakage
// bump. Loopback subsweeps see a strong constant with per-sweep phase
// jitter, mirroring what the real sensor reports.
type MockLink struct {
	Targets       []MockTarget
	NoiseStd      float64
	LeakageAmp    float64
	PhaseJitter   float64       // std dev of per-sweep phase noise, radians
	FrameInterval time.Duration // pacing between frames; 0 disables

	Clock timeutil.Clock
	Seed  int64

	mu      sync.Mutex
	rng     *rand.Rand
	session SessionConfig
	setup   bool
	started bool
}

// NewMockLink returns a mock link with a lone target at 1 m.
func NewMockLink() *MockLink {
	return &MockLink{
		Targets:     []MockTarget{{DistanceM: 1.0, Amplitude: 800}},
		NoiseStd:    2.0,
		LeakageAmp:  400,
		PhaseJitter: 0.02,
		Clock:       timeutil.RealClock{},
		Seed:        1,
	}
}

// Setup validates and stores the session config.
func (l *MockLink) Setup(cfg SessionConfig) ([]map[int]Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l.session = cfg
	l.setup = true
	l.started = false
	l.rng = rand.New(rand.NewSource(l.Seed))

	meta := make([]map[int]Metadata, len(cfg.Groups))
	for gi, group := range cfg.Groups {
		m := make(map[int]Metadata, len(group))
		for sensorID := range group {
			m[sensorID] = Metadata{BaseStepLengthM: ApproxBaseStepLengthM}
		}
		meta[gi] = m
	}
	return meta, nil
}

// Start begins frame generation.
func (l *MockLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.setup {
		return ErrNotSetup
	}
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true
	return nil
}

// ReadFrame synthesizes one frame for every configured group.
func (l *MockLink) ReadFrame(ctx context.Context) ([]GroupResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.FrameInterval > 0 {
		l.Clock.Sleep(l.FrameInterval)
	}

	out := make([]GroupResult, len(l.session.Groups))
	for gi, group := range l.session.Groups {
		gr := make(GroupResult, len(group))
		for sensorID, sc := range group {
			gr[sensorID] = l.renderGroup(sc)
		}
		out[gi] = gr
	}
	return out, nil
}

// Stop ends the session.
func (l *MockLink) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return ErrNotStarted
	}
	l.started = false
	return nil
}

// Close is a no-op for the mock.
func (l *MockLink) Close() error { return nil }

func (l *MockLink) renderGroup(sc SensorConfig) Result {
	frame := make([][]complex128, sc.SweepsPerFrame)
	for s := range frame {
		sweep := make([]complex128, 0, sc.NumPoints())
		jitter := l.rng.NormFloat64() * l.PhaseJitter
		for _, sub := range sc.Subsweeps {
			sweep = append(sweep, l.renderSubsweep(sub, jitter)...)
		}
		frame[s] = sweep
	}
	return Result{Frame: frame}
}

func (l *MockLink) renderSubsweep(sub SubsweepConfig, jitter float64) []complex128 {
	out := make([]complex128, sub.NumPoints)
	phase := cmplx.Exp(complex(0, jitter))

	if sub.EnableLoopback {
		for p := range out {
			out[p] = complex(l.LeakageAmp*10, 0) * phase
		}
		return out
	}

	// FWHM to Gaussian sigma.
	sigma := sub.Profile.EnvelopeWidthM() / 2.355

	for p := range out {
		distM := float64(sub.StartPoint+p*sub.StepLength) * ApproxBaseStepLengthM
		var amp float64
		for _, t := range l.Targets {
			d := distM - t.DistanceM
			amp += t.Amplitude * math.Exp(-d*d/(2*sigma*sigma))
		}
		// Direct leakage decays over the first couple of envelope widths.
		if l.LeakageAmp > 0 {
			amp += l.LeakageAmp * math.Exp(-distM*distM/(2*sigma*sigma*4))
		}
		v := complex(amp, 0) * phase
		v += complex(l.rng.NormFloat64()*l.NoiseStd, l.rng.NormFloat64()*l.NoiseStd)
		out[p] = v
	}
	return out
}
