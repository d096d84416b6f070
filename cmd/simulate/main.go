// Command simulate runs the full detector pipeline against the
// simulated sensor: calibrate, record a background threshold, then
// stream frames and print the detected distances. Useful for exercising
// a configuration end to end without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/banshee-data/distance.report/internal/distance"
	"github.com/banshee-data/distance.report/internal/pcradar"
)

var (
	startM    = flag.Float64("start", 0.2, "Measurement range start in meters")
	endM      = flag.Float64("end", 1.0, "Measurement range end in meters")
	frames    = flag.Int("frames", 10, "Number of frames to measure")
	targets   = flag.String("targets", "1.0:800", "Simulated targets as dist:amp pairs, comma separated")
	threshold = flag.String("threshold", "cfar", "Threshold method: cfar, fixed or recorded")
	noiseStd  = flag.Float64("noise", 2.0, "Simulated noise standard deviation")
	seed      = flag.Int64("seed", 1, "Simulation random seed")
)

// parseTargets parses "1.0:800,2.5:300" into mock targets.
func parseTargets(s string) ([]pcradar.MockTarget, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]pcradar.MockTarget, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		fields := strings.Split(p, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid target '%s': want dist:amp", p)
		}
		dist, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target distance '%s': %w", fields[0], err)
		}
		amp, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target amplitude '%s': %w", fields[1], err)
		}
		out = append(out, pcradar.MockTarget{DistanceM: dist, Amplitude: amp})
	}
	return out, nil
}

func main() {
	flag.Parse()
	ctx := context.Background()

	mockTargets, err := parseTargets(*targets)
	if err != nil {
		log.Fatalf("bad -targets: %v", err)
	}

	link := pcradar.NewMockLink()
	link.Targets = mockTargets
	link.NoiseStd = *noiseStd
	link.Seed = *seed

	cfg := distance.DefaultDetectorConfig()
	cfg.StartM = *startM
	cfg.EndM = *endM
	cfg.NumFramesInRecordedThreshold = 5

	method, ok := distance.ParseThresholdMethod(*threshold)
	if !ok {
		log.Fatalf("unknown threshold method %q (want cfar, fixed or recorded)", *threshold)
	}
	cfg.ThresholdMethod = method

	detector, err := distance.NewDetector(link, 1, cfg, &distance.DetectorContext{})
	if err != nil {
		log.Fatalf("failed to create detector: %v", err)
	}

	status, err := detector.Status()
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}
	if status.ReadyToCalibrateCloseRange {
		log.Print("calibrating close range...")
		if err := detector.CalibrateCloseRange(ctx); err != nil {
			log.Fatalf("close range calibration failed: %v", err)
		}
	}

	status, err = detector.Status()
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}
	if status.ReadyToRecordThreshold && status.State != distance.StatusOK {
		log.Printf("recording background threshold over %d frames...", cfg.NumFramesInRecordedThreshold)
		if err := detector.RecordThreshold(ctx); err != nil {
			log.Fatalf("threshold recording failed: %v", err)
		}
	}

	if err := detector.Start(); err != nil {
		log.Fatalf("start failed: %v", err)
	}
	defer func() {
		if err := detector.Stop(); err != nil {
			log.Printf("stop failed: %v", err)
		}
	}()

	for i := 0; i < *frames; i++ {
		result, err := detector.GetNext(ctx)
		if err != nil {
			log.Fatalf("frame %d failed: %v", i, err)
		}
		if len(result.Distances) == 0 {
			fmt.Printf("frame %2d: no targets\n", i)
			continue
		}
		var sb strings.Builder
		for p := range result.Distances {
			if p > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%.3f m (amp %.0f)", result.Distances[p], result.Amplitudes[p])
		}
		fmt.Printf("frame %2d: %s\n", i, sb.String())
	}
}
