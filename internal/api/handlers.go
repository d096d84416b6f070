package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/distance.report/internal/db"
	"github.com/banshee-data/distance.report/internal/units"
)

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := s.ctrl.Status()
	if err != nil {
		s.writeDetectorError(w, err)
		return
	}

	s.writeJSON(w, map[string]any{
		"sensor_id": s.sensorID,
		"running":   s.ctrl.Running(),
		"state":     status.State.String(),
		"status":    status,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]any{
			"units":  s.units,
			"config": s.ctrl.Config(),
		})
	case http.MethodPut, http.MethodPost:
		// Start from the current config so partial updates only
		// override the fields the request names.
		cfg := s.ctrl.Config()
		if err := decodeJSONBody(r, &cfg); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid config: %v", err))
			return
		}
		if err := s.ctrl.UpdateConfig(cfg); err != nil {
			s.writeDetectorError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"config": s.ctrl.Config()})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// measurementAPI is the wire shape of a stored measurement, with
// distances converted to the server's display units.
type measurementAPI struct {
	ID         int64     `json:"id"`
	SensorID   int       `json:"sensor_id"`
	NumPeaks   int       `json:"num_peaks"`
	Nearest    *float64  `json:"nearest,omitempty"`
	Strongest  *float64  `json:"strongest,omitempty"`
	Peaks      []db.Peak `json:"peaks"`
	Units      string    `json:"units"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (s *Server) measurementToAPI(m db.Measurement) measurementAPI {
	out := measurementAPI{
		ID:         m.ID,
		SensorID:   m.SensorID,
		NumPeaks:   m.NumPeaks,
		Peaks:      make([]db.Peak, len(m.Peaks)),
		Units:      s.units,
		RecordedAt: m.CreatedAt,
	}
	if m.NearestM != nil {
		v := units.ConvertDistance(*m.NearestM, s.units)
		out.Nearest = &v
	}
	if m.StrongestM != nil {
		v := units.ConvertDistance(*m.StrongestM, s.units)
		out.Strongest = &v
	}
	for i, p := range m.Peaks {
		out.Peaks[i] = db.Peak{
			DistanceM: units.ConvertDistance(p.DistanceM, s.units),
			Amplitude: p.Amplitude,
		}
	}
	return out
}

func (s *Server) listMeasurements(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsedLimit, err := strconv.Atoi(l)
		if err != nil || parsedLimit < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsedLimit
	}

	measurements, err := s.db.RecentMeasurements(s.sensorID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve measurements: %v", err))
		return
	}

	// without the measurementAPI struct the response would expose raw
	// storage fields; we control the output format and units here.
	apiMeasurements := make([]measurementAPI, len(measurements))
	for i, m := range measurements {
		apiMeasurements[i] = s.measurementToAPI(m)
	}
	s.writeJSON(w, apiMeasurements)
}

// calibrationAPI summarizes a stored calibration without its bulky
// numeric context.
type calibrationAPI struct {
	ID               string    `json:"id"`
	SensorID         int       `json:"sensor_id"`
	HasDirectLeakage bool      `json:"has_direct_leakage"`
	HasThresholds    bool      `json:"has_recorded_thresholds"`
	ConfigStartM     float64   `json:"config_start_m"`
	ConfigEndM       float64   `json:"config_end_m"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *Server) listCalibrations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	calibrations, err := s.db.Calibrations(s.sensorID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve calibrations: %v", err))
		return
	}

	apiCalibrations := make([]calibrationAPI, len(calibrations))
	for i, c := range calibrations {
		apiCalibrations[i] = calibrationAPI{
			ID:               c.ID,
			SensorID:         c.SensorID,
			HasDirectLeakage: c.Context.DirectLeakageRe != nil,
			HasThresholds:    c.Context.RecordedThresholds != nil,
			ConfigStartM:     c.Config.StartM,
			ConfigEndM:       c.Config.EndM,
			CreatedAt:        c.CreatedAt,
		}
	}
	s.writeJSON(w, apiCalibrations)
}

func (s *Server) calibrateCloseRange(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.ctrl.CalibrateCloseRange(r.Context()); err != nil {
		s.writeDetectorError(w, err)
		return
	}
	status, err := s.ctrl.Status()
	if err != nil {
		s.writeDetectorError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"calibrated": true, "status": status})
}

func (s *Server) recordThreshold(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.ctrl.RecordThreshold(r.Context()); err != nil {
		s.writeDetectorError(w, err)
		return
	}
	status, err := s.ctrl.Status()
	if err != nil {
		s.writeDetectorError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"recorded": true, "status": status})
}

func (s *Server) startDetector(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.ctrl.Start(); err != nil {
		s.writeDetectorError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"running": true})
}

func (s *Server) stopDetector(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.ctrl.Stop(); err != nil {
		s.writeDetectorError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"running": false})
}
