package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/distance.report/internal/db"
	"github.com/banshee-data/distance.report/internal/distance"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the detector surface the API drives. The runner
// implements it; tests substitute a fake. All operations that touch
// hardware take a context so HTTP request cancellation propagates.
type Controller interface {
	Status() (distance.DetectorStatus, error)
	Config() distance.DetectorConfig
	UpdateConfig(cfg distance.DetectorConfig) error
	CalibrateCloseRange(ctx context.Context) error
	RecordThreshold(ctx context.Context) error
	Start() error
	Stop() error
	Running() bool
}

type Server struct {
	ctrl     Controller
	db       *db.DB
	sensorID int
	units    string
}

func NewServer(ctrl Controller, database *db.DB, sensorID int, units string) *Server {
	return &Server{
		ctrl:     ctrl,
		db:       database,
		sensorID: sensorID,
		units:    units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/measurements", s.listMeasurements)
	mux.HandleFunc("/api/calibrations", s.listCalibrations)
	mux.HandleFunc("/api/calibrate/close-range", s.calibrateCloseRange)
	mux.HandleFunc("/api/calibrate/threshold", s.recordThreshold)
	mux.HandleFunc("/api/start", s.startDetector)
	mux.HandleFunc("/api/stop", s.stopDetector)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeDetectorError maps detector error kinds to HTTP statuses: bad
// configuration is the client's fault, calibration and lifecycle state
// are conflicts, anything else is a server error.
func (s *Server) writeDetectorError(w http.ResponseWriter, err error) {
	var cfgErr *distance.ConfigurationError
	var calErr *distance.CalibrationStateError
	var lcErr *distance.LifecycleError
	switch {
	case errors.As(err, &cfgErr):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &calErr), errors.As(err, &lcErr):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
