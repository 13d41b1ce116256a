package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yakgreen/irrigation-server/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no registered hardware.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database connection and schema lifecycle. It is the
// sole writer of telemetry log records; readers only ever see committed rows.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist. The unique index over the
// de-duplication tuple uses ifnull so that events with an absent valve or
// program still conflict on re-delivery (SQL treats NULLs as distinct).
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hardware (
			serial_number TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			valve_settings TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS telemetry_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial_number TEXT NOT NULL,
			timestamp_server TEXT NOT NULL,
			timestamp_hw TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			detail_status TEXT NOT NULL,
			valve_id INTEGER,
			program_index INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_serial_hw ON telemetry_log(serial_number, timestamp_hw);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_server_ts ON telemetry_log(timestamp_server);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_telemetry_dedup ON telemetry_log(
			serial_number, timestamp_hw, status_code,
			ifnull(valve_id, -1), ifnull(program_index, -1)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNullable(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func parseStoredTime(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		ts, _ = time.Parse("2006-01-02T15:04:05Z07:00", raw)
	}
	return ts
}

// HasTelemetryEvent reports whether an event with the given de-duplication
// identity is already persisted.
func (s *Store) HasTelemetryEvent(ctx context.Context, key model.EventKey) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("store not initialized")
	}

	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM telemetry_log
		 WHERE serial_number = ?
		   AND timestamp_hw = ?
		   AND status_code = ?
		   AND ifnull(valve_id, -1) = ifnull(?, -1)
		   AND ifnull(program_index, -1) = ifnull(?, -1)
		 LIMIT 1;`,
		key.SerialNumber,
		key.TimestampHW.UTC().Format(time.RFC3339Nano),
		key.StatusCode,
		nullableInt(key.ValveID),
		nullableInt(key.ProgramIndex),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check telemetry event: %w", err)
	}
	return true, nil
}

// InsertTelemetryEvent persists a normalized telemetry event. The unique
// index backstops the caller's existence check, so a racing duplicate insert
// degrades to a no-op instead of a second row.
func (s *Store) InsertTelemetryEvent(ctx context.Context, ev model.TelemetryEvent) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	serverTS := ev.TimestampServer
	if serverTS.IsZero() {
		serverTS = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO telemetry_log
		 (serial_number, timestamp_server, timestamp_hw, status_code, detail_status, valve_id, program_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		ev.SerialNumber,
		serverTS.UTC().Format(time.RFC3339Nano),
		ev.TimestampHW.UTC().Format(time.RFC3339Nano),
		ev.StatusCode,
		ev.DetailStatus,
		nullableInt(ev.ValveID),
		nullableInt(ev.ProgramIndex),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}

	return nil
}

// EventsBySerial returns all telemetry events for a device ordered by the
// hardware timestamp, ascending or descending.
func (s *Store) EventsBySerial(ctx context.Context, serialNumber string, descending bool) ([]model.TelemetryEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	order := "ASC"
	if descending {
		order = "DESC"
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT serial_number, timestamp_server, timestamp_hw, status_code, detail_status, valve_id, program_index
		 FROM telemetry_log
		 WHERE serial_number = ?
		 ORDER BY timestamp_hw `+order+`;`,
		serialNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("query telemetry events: %w", err)
	}
	defer rows.Close()

	var events []model.TelemetryEvent
	for rows.Next() {
		var (
			serial       string
			serverTSStr  string
			hwTSStr      string
			statusCode   int
			detailStatus string
			valveID      sql.NullInt64
			programIndex sql.NullInt64
		)
		if err := rows.Scan(&serial, &serverTSStr, &hwTSStr, &statusCode, &detailStatus, &valveID, &programIndex); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}

		events = append(events, model.TelemetryEvent{
			SerialNumber:    serial,
			TimestampServer: parseStoredTime(serverTSStr),
			TimestampHW:     parseStoredTime(hwTSStr),
			StatusCode:      statusCode,
			DetailStatus:    detailStatus,
			ValveID:         intFromNullable(valveID),
			ProgramIndex:    intFromNullable(programIndex),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry events: %w", err)
	}

	return events, nil
}

// PurgeExpiredEvents deletes telemetry rows whose server timestamp predates
// the cutoff and reports how many were removed.
func (s *Store) PurgeExpiredEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM telemetry_log WHERE timestamp_server < ?;`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired events: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired events: %w", err)
	}
	return removed, nil
}

// ListDeviceSerialNumbers returns the serial numbers of all registered
// hardware, the input to the subscription reconciliation scan.
func (s *Store) ListDeviceSerialNumbers(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT serial_number FROM hardware ORDER BY serial_number;`)
	if err != nil {
		return nil, fmt.Errorf("query serial numbers: %w", err)
	}
	defer rows.Close()

	var serials []string
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, fmt.Errorf("scan serial number: %w", err)
		}
		serials = append(serials, serial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate serial numbers: %w", err)
	}

	return serials, nil
}

// ErrHardwareExists is returned when registering a serial number twice.
var ErrHardwareExists = errors.New("hardware already exists")

// RegisterHardware adds a new controller to the registry.
func (s *Store) RegisterHardware(ctx context.Context, hw model.Hardware) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	createdAt := hw.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	settings := hw.ValveSettings
	if settings == nil {
		settings = []model.ValveSetting{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode valve settings: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO hardware (serial_number, model, created_at, valve_settings) VALUES (?, ?, ?, ?);`,
		hw.SerialNumber,
		hw.Model,
		createdAt.UTC().Format(time.RFC3339Nano),
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("register hardware: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("register hardware: %w", err)
	}
	if inserted == 0 {
		return ErrHardwareExists
	}
	return nil
}

// ListHardware returns every registered controller.
func (s *Store) ListHardware(ctx context.Context) ([]model.Hardware, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT serial_number, model, created_at, valve_settings FROM hardware ORDER BY created_at;`,
	)
	if err != nil {
		return nil, fmt.Errorf("query hardware: %w", err)
	}
	defer rows.Close()

	var list []model.Hardware
	for rows.Next() {
		hw, err := scanHardware(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, hw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hardware: %w", err)
	}

	return list, nil
}

// GetHardware loads a single controller by serial number.
func (s *Store) GetHardware(ctx context.Context, serialNumber string) (model.Hardware, error) {
	if s.db == nil {
		return model.Hardware{}, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT serial_number, model, created_at, valve_settings FROM hardware WHERE serial_number = ?;`,
		serialNumber,
	)

	hw, err := scanHardware(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Hardware{}, ErrNotFound
	}
	if err != nil {
		return model.Hardware{}, err
	}
	return hw, nil
}

func scanHardware(scan func(...any) error) (model.Hardware, error) {
	var (
		serial       string
		hwModel      string
		createdAtStr string
		settingsRaw  string
	)
	if err := scan(&serial, &hwModel, &createdAtStr, &settingsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Hardware{}, err
		}
		return model.Hardware{}, fmt.Errorf("scan hardware: %w", err)
	}

	var settings []model.ValveSetting
	if err := json.Unmarshal([]byte(settingsRaw), &settings); err != nil {
		return model.Hardware{}, fmt.Errorf("decode valve settings: %w", err)
	}

	return model.Hardware{
		SerialNumber:  serial,
		Model:         hwModel,
		CreatedAt:     parseStoredTime(createdAtStr),
		ValveSettings: settings,
	}, nil
}

// DeleteHardware removes a controller from the registry.
func (s *Store) DeleteHardware(ctx context.Context, serialNumber string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM hardware WHERE serial_number = ?;`, serialNumber)
	if err != nil {
		return fmt.Errorf("delete hardware: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete hardware: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateValveSetting replaces one valve's name and detail on a controller.
func (s *Store) UpdateValveSetting(ctx context.Context, serialNumber string, setting model.ValveSetting) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	hw, err := s.GetHardware(ctx, serialNumber)
	if err != nil {
		return err
	}

	found := false
	for i := range hw.ValveSettings {
		if hw.ValveSettings[i].ID == setting.ID {
			hw.ValveSettings[i] = setting
			found = true
			break
		}
	}
	if !found {
		hw.ValveSettings = append(hw.ValveSettings, setting)
	}

	raw, err := json.Marshal(hw.ValveSettings)
	if err != nil {
		return fmt.Errorf("encode valve settings: %w", err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE hardware SET valve_settings = ? WHERE serial_number = ?;`,
		string(raw),
		serialNumber,
	); err != nil {
		return fmt.Errorf("update valve settings: %w", err)
	}
	return nil
}
