package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/distance.report/internal/api"
	"github.com/banshee-data/distance.report/internal/config"
	"github.com/banshee-data/distance.report/internal/db"
	"github.com/banshee-data/distance.report/internal/distance"
	"github.com/banshee-data/distance.report/internal/pcradar"
	"github.com/banshee-data/distance.report/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode with a simulated sensor")
	listen      = flag.String("listen", ":8080", "Listen address")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Serial port of the sensor module")
	sensorID    = flag.Int("sensor", 1, "Sensor id")
	dbFile      = flag.String("db", "distance_data.db", "Path to the sqlite database")
	tuningPath  = flag.String("config", "", "Path to a tuning JSON file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("distance.report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := config.DefaultTuningConfig()
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var link pcradar.Link
	if *devMode {
		link = pcradar.NewMockLink()
	} else {
		port, err := pcradar.OpenPort(*serialPort, pcradar.DefaultPortMode())
		if err != nil {
			log.Fatalf("failed to open sensor port: %v", err)
		}
		link = pcradar.NewSerialLink(port)
	}
	defer link.Close()

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Resume the last stored calibration so a restart does not force a
	// recalibration. A stale calibration is caught by the status check,
	// not here.
	dctx := &distance.DetectorContext{}
	if cal, err := database.LatestCalibration(*sensorID); err == nil {
		dctx = distance.ContextFromSnapshot(cal.Context)
		log.Printf("restored calibration %s from %s", cal.ID, cal.CreatedAt.Format(time.RFC3339))
	} else if !errors.Is(err, sql.ErrNoRows) {
		log.Fatalf("failed to load calibration: %v", err)
	}

	detector, err := distance.NewDetector(link, *sensorID, tuning.DetectorConfig(), dctx)
	if err != nil {
		log.Fatalf("failed to create detector: %v", err)
	}

	runner := NewRunner(detector, database, *sensorID, tuning.GetMeasureInterval())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		database.AttachAdminRoutes(mux)

		apiMux := api.NewServer(runner, database, *sensorID, tuning.GetUnits()).ServeMux()
		mux.Handle("/api/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	if runner.Running() {
		if err := runner.Stop(); err != nil {
			log.Printf("failed to stop detector: %v", err)
		}
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
