package backup

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gostonefire/mygrid/mgrerrors"
)

// MetricsSink writes energy-flow samples to Postgres (cmd/mygrid writes
// one row per forecast hour after each optimizer run), for
// operators who want longer-lived history than the JSON backup files
// retain. Grounded on the teacher's scheduler/data.go metrics table
// (same energy_flow columns, re-purposed from a miner rig's power
// draw to the battery/PV/grid quantities this package tracks); the
// one remaining home in this repo for the teacher's lib/pq dependency,
// since spec.md names no database component of its own.
type MetricsSink struct {
	db *sql.DB
}

// OpenMetricsSink connects to Postgres and ensures the metrics table
// exists. An empty connStr disables the sink: callers should check
// for a nil *MetricsSink before calling Write.
func OpenMetricsSink(connStr string) (*MetricsSink, error) {
	if connStr == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: open metrics db: %v", mgrerrors.Configuration, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping metrics db: %v", mgrerrors.CollaboratorTransient, err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS metrics (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		pv_power DOUBLE PRECISION NOT NULL,
		grid_power DOUBLE PRECISION NOT NULL,
		battery_power DOUBLE PRECISION NOT NULL,
		battery_soc DOUBLE PRECISION NOT NULL,
		block_type TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("%w: create metrics table: %v", mgrerrors.PersistenceIO, err)
	}

	return &MetricsSink{db: db}, nil
}

// Close releases the underlying database connection.
func (m *MetricsSink) Close() error {
	if m == nil {
		return nil
	}
	return m.db.Close()
}

// Write records one energy-flow sample. pvPower/gridPower/batteryPower
// are kW, positive gridPower meaning import and positive batteryPower
// meaning charging, matching the teacher's own sign convention.
func (m *MetricsSink) Write(ts time.Time, pvPower, gridPower, batteryPower, batterySOC float64, blockType string) error {
	if m == nil {
		return nil
	}
	_, err := m.db.Exec(
		`INSERT INTO metrics (timestamp, pv_power, grid_power, battery_power, battery_soc, block_type)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ts, pvPower, gridPower, batteryPower, batterySOC, blockType,
	)
	if err != nil {
		return fmt.Errorf("%w: insert metrics: %v", mgrerrors.PersistenceIO, err)
	}
	return nil
}
