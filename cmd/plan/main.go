// Command plan prints the session a detector configuration plans to,
// without touching a sensor. Useful for checking how a measurement range
// splits into subsweeps before deploying.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/distance.report/internal/distance"
	"github.com/banshee-data/distance.report/internal/pcradar"
)

var (
	startM        = flag.Float64("start", 0.2, "Measurement range start in meters")
	endM          = flag.Float64("end", 1.0, "Measurement range end in meters")
	maxProfile    = flag.Int("max-profile", 5, "Highest allowed profile (1-5)")
	maxStepLength = flag.Int("max-step", 0, "Step length cap in points (0 = no cap)")
	signalQuality = flag.Float64("signal-quality", 18.0, "Signal quality target in dB")
	threshold     = flag.String("threshold", "cfar", "Threshold method: cfar, fixed or recorded")
	sensorID      = flag.Int("sensor", 1, "Sensor id")
	asJSON        = flag.Bool("json", false, "Print the session as JSON")
)

const basePointSpacingM = 2.5e-3

func main() {
	flag.Parse()

	cfg := distance.DefaultDetectorConfig()
	cfg.StartM = *startM
	cfg.EndM = *endM
	cfg.MaxProfile = pcradar.Profile(*maxProfile)
	cfg.MaxStepLength = *maxStepLength
	cfg.SignalQuality = *signalQuality

	method, ok := distance.ParseThresholdMethod(*threshold)
	if !ok {
		log.Fatalf("unknown threshold method %q (want cfar, fixed or recorded)", *threshold)
	}
	cfg.ThresholdMethod = method

	session, specs, err := distance.PlanSession(cfg, *sensorID)
	if err != nil {
		log.Fatalf("planning failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(session); err != nil {
			log.Fatalf("failed to encode session: %v", err)
		}
		return
	}

	fmt.Printf("range [%.3f, %.3f] m plans to %d group(s), %d processor(s)\n\n",
		cfg.StartM, cfg.EndM, len(session.Groups), len(specs))

	for gi, group := range session.Groups {
		sc := group[*sensorID]
		fmt.Printf("group %d: %d sweeps/frame\n", gi, sc.SweepsPerFrame)
		for si, sub := range sc.Subsweeps {
			kind := "ranging"
			if sub.EnableLoopback {
				kind = "loopback"
			}
			fmt.Printf("  subsweep %d (%s): profile %d, start %.3f m, %d points, step %d (%.1f mm), hwaas %d, gain %d, prf %s\n",
				si, kind, sub.Profile,
				float64(sub.StartPoint)*basePointSpacingM,
				sub.NumPoints, sub.StepLength,
				float64(sub.StepLength)*basePointSpacingM*1000,
				sub.HWAAS, sub.ReceiverGain, sub.PRF)
		}
	}

	fmt.Println()
	for _, spec := range specs {
		fmt.Printf("processor for group %d covers subsweeps %v with %s threshold\n",
			spec.GroupIndex, spec.SubsweepIndexes, spec.Config.ThresholdMethod)
	}
}
