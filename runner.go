package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/distance.report/internal/db"
	"github.com/banshee-data/distance.report/internal/distance"
	"github.com/banshee-data/distance.report/internal/monitoring"
	"github.com/banshee-data/distance.report/internal/timeutil"
)

// Runner owns the detector and serializes access to it from the HTTP
// API and the measurement loop. Calibrations are persisted to the
// database as they complete so a restart can resume without
// recalibrating.
type Runner struct {
	mu       sync.Mutex
	detector *distance.Detector
	database *db.DB
	sensorID int
	interval time.Duration
	clock    timeutil.Clock

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

func NewRunner(detector *distance.Detector, database *db.DB, sensorID int, interval time.Duration) *Runner {
	return &Runner{
		detector: detector,
		database: database,
		sensorID: sensorID,
		interval: interval,
		clock:    timeutil.RealClock{},
	}
}

func (r *Runner) Status() (distance.DetectorStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detector.Status()
}

func (r *Runner) Config() distance.DetectorConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detector.Config()
}

func (r *Runner) UpdateConfig(cfg distance.DetectorConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detector.UpdateConfig(cfg)
}

func (r *Runner) CalibrateCloseRange(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.detector.CalibrateCloseRange(ctx); err != nil {
		return err
	}
	return r.persistCalibration()
}

func (r *Runner) RecordThreshold(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.detector.RecordThreshold(ctx); err != nil {
		return err
	}
	return r.persistCalibration()
}

// persistCalibration stores the detector's current context. Called with
// the lock held after a successful calibration step.
func (r *Runner) persistCalibration() error {
	dctx := r.detector.Context()
	id, err := r.database.SaveCalibration(r.sensorID, r.detector.Config(), dctx.Snapshot())
	if err != nil {
		return err
	}
	monitoring.Logf("stored calibration %s for sensor %d", id, r.sensorID)
	return nil
}

// Start begins streaming and launches the measurement loop.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.detector.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelLoop = cancel
	r.loopDone = make(chan struct{})
	go r.measureLoop(ctx, r.loopDone)
	return nil
}

// Stop halts the measurement loop, then stops the detector.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.cancelLoop == nil {
		r.mu.Unlock()
		return r.detector.Stop()
	}
	cancel, done := r.cancelLoop, r.loopDone
	r.cancelLoop = nil
	r.loopDone = nil
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detector.Stop()
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detector.Started()
}

func (r *Runner) measureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.mu.Lock()
		result, err := r.detector.GetNext(ctx)
		r.mu.Unlock()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			monitoring.Logf("measurement read failed: %v", err)
			return
		}

		peaks := make([]db.Peak, len(result.Distances))
		for i := range result.Distances {
			peaks[i] = db.Peak{
				DistanceM: result.Distances[i],
				Amplitude: result.Amplitudes[i],
			}
		}
		if err := r.database.RecordMeasurement(r.sensorID, peaks); err != nil {
			monitoring.Logf("failed to record measurement: %v", err)
		}

		if r.interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-r.clock.After(r.interval):
			}
		}
	}
}
