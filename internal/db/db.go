// Package db persists detector calibrations and measurement history in
// a local sqlite database. The schema is managed by embedded migrations.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/distance.report/internal/distance"
)

type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the sqlite database at path. The
// schema is not touched; run MigrateUp to bring it current.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := sqldb.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	return &DB{sqldb}, nil
}

// Calibration is one stored calibration: the detector config it was
// captured for and the resulting context snapshot.
type Calibration struct {
	ID        string
	SensorID  int
	Config    distance.DetectorConfig
	Context   distance.DetectorContextSnapshot
	CreatedAt time.Time
}

// SaveCalibration stores a calibration and returns its generated id.
func (db *DB) SaveCalibration(sensorID int, cfg distance.DetectorConfig, snapshot distance.DetectorContextSnapshot) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	ctxJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}

	id := uuid.New().String()
	_, err = db.Exec(
		"INSERT INTO calibrations (calibration_id, sensor_id, config, context) VALUES (?, ?, ?, ?)",
		id, sensorID, string(cfgJSON), string(ctxJSON))
	if err != nil {
		return "", fmt.Errorf("failed to insert calibration: %w", err)
	}
	return id, nil
}

// LatestCalibration returns the most recently stored calibration for the
// sensor, or sql.ErrNoRows if none exists.
func (db *DB) LatestCalibration(sensorID int) (*Calibration, error) {
	row := db.QueryRow(`
		SELECT calibration_id, sensor_id, config, context, created_at
		FROM calibrations WHERE sensor_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, sensorID)
	return scanCalibration(row)
}

// GetCalibration returns a calibration by id.
func (db *DB) GetCalibration(id string) (*Calibration, error) {
	row := db.QueryRow(`
		SELECT calibration_id, sensor_id, config, context, created_at
		FROM calibrations WHERE calibration_id = ?`, id)
	return scanCalibration(row)
}

func scanCalibration(row *sql.Row) (*Calibration, error) {
	var cal Calibration
	var cfgJSON, ctxJSON string
	if err := row.Scan(&cal.ID, &cal.SensorID, &cfgJSON, &ctxJSON, &cal.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &cal.Config); err != nil {
		return nil, fmt.Errorf("failed to decode stored config: %w", err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &cal.Context); err != nil {
		return nil, fmt.Errorf("failed to decode stored context: %w", err)
	}
	return &cal, nil
}

// Calibrations lists stored calibrations for a sensor, newest first.
func (db *DB) Calibrations(sensorID int) ([]Calibration, error) {
	rows, err := db.Query(`
		SELECT calibration_id, sensor_id, config, context, created_at
		FROM calibrations WHERE sensor_id = ?
		ORDER BY created_at DESC, rowid DESC`, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Calibration
	for rows.Next() {
		var cal Calibration
		var cfgJSON, ctxJSON string
		if err := rows.Scan(&cal.ID, &cal.SensorID, &cfgJSON, &ctxJSON, &cal.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cfgJSON), &cal.Config); err != nil {
			return nil, fmt.Errorf("failed to decode stored config: %w", err)
		}
		if err := json.Unmarshal([]byte(ctxJSON), &cal.Context); err != nil {
			return nil, fmt.Errorf("failed to decode stored context: %w", err)
		}
		out = append(out, cal)
	}
	return out, rows.Err()
}

// DeleteCalibration removes a stored calibration.
func (db *DB) DeleteCalibration(id string) error {
	_, err := db.Exec("DELETE FROM calibrations WHERE calibration_id = ?", id)
	return err
}

// Peak is one detected reflector in a measurement.
type Peak struct {
	DistanceM float64 `json:"distance_m"`
	Amplitude float64 `json:"amplitude"`
}

// Measurement is one stored frame result.
type Measurement struct {
	ID         int64
	SensorID   int
	NumPeaks   int
	NearestM   *float64
	StrongestM *float64
	Peaks      []Peak
	CreatedAt  time.Time
}

// RecordMeasurement stores one frame's fused peak list. Frames with no
// peaks are stored too; gaps in the history are themselves data.
func (db *DB) RecordMeasurement(sensorID int, peaks []Peak) error {
	peaksJSON, err := json.Marshal(peaks)
	if err != nil {
		return fmt.Errorf("failed to encode peaks: %w", err)
	}

	var nearest, strongest *float64
	for i := range peaks {
		if nearest == nil || peaks[i].DistanceM < *nearest {
			nearest = &peaks[i].DistanceM
		}
	}
	if len(peaks) > 0 {
		best := 0
		for i := range peaks {
			if peaks[i].Amplitude > peaks[best].Amplitude {
				best = i
			}
		}
		strongest = &peaks[best].DistanceM
	}

	_, err = db.Exec(
		"INSERT INTO measurements (sensor_id, num_peaks, nearest_m, strongest_m, peaks) VALUES (?, ?, ?, ?, ?)",
		sensorID, len(peaks), nearest, strongest, string(peaksJSON))
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

// RecentMeasurements returns up to limit measurements for the sensor,
// newest first.
func (db *DB) RecentMeasurements(sensorID, limit int) ([]Measurement, error) {
	rows, err := db.Query(`
		SELECT measurement_id, sensor_id, num_peaks, nearest_m, strongest_m, peaks, created_at
		FROM measurements WHERE sensor_id = ?
		ORDER BY measurement_id DESC LIMIT ?`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		var peaksJSON string
		if err := rows.Scan(&m.ID, &m.SensorID, &m.NumPeaks, &m.NearestM, &m.StrongestM, &peaksJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(peaksJSON), &m.Peaks); err != nil {
			return nil, fmt.Errorf("failed to decode stored peaks: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts the debug surface: live SQL access through
// tailsql and an on-demand database backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://distance.db", db.DB, &tailsql.DBOptions{
		Label: "Distance DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		backup, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backup.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, backupPath, time.Now(), backup)
	}))
}
