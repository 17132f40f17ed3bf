package recorder

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"github.com/samber/lo"

	"github.com/start-point/phone-sentry/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT,
	event TEXT,
	frame_path TEXT,
	screen_path TEXT,
	confidence TEXT,
	active_apps TEXT,
	username TEXT,
	device TEXT
)`

func openStore(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open log database %s: %w", path, err)
	}
	// One writer: all statements go through a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open log database %s: %w", path, err)
	}
	if err := createOrMigrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// createOrMigrate builds the logs table and adds columns introduced
// after the first release to databases created by older versions.
func createOrMigrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create logs table: %w", err)
	}

	rows, err := db.Query(`PRAGMA table_info(logs)`)
	if err != nil {
		return fmt.Errorf("inspect logs table: %w", err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid, notnull, pk int
		var name, typ string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("inspect logs table: %w", err)
		}
		existing[name] = true
	}
	rows.Close()

	for _, col := range []string{"confidence", "active_apps", "username", "device"} {
		if existing[col] {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE logs ADD COLUMN %s TEXT`, col)); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Recorder) insert(rec models.LogRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO logs (timestamp, event, frame_path, screen_path, confidence, active_apps, username, device)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp,
		string(rec.Event),
		nullable(rec.FramePath),
		nullable(rec.ScreenPath),
		nullable(rec.Confidence),
		nullable(rec.ActiveApps),
		rec.Username,
		rec.Device,
	)
	return err
}

func scanRecords(rows *sql.Rows) ([]models.LogRecord, error) {
	defer rows.Close()

	var out []models.LogRecord
	for rows.Next() {
		var rec models.LogRecord
		var event string
		var framePath, screenPath, conf, apps, username, device sql.NullString
		err := rows.Scan(&rec.ID, &rec.Timestamp, &event, &framePath, &screenPath, &conf, &apps, &username, &device)
		if err != nil {
			return nil, err
		}
		rec.Event = models.EventKind(event)
		rec.FramePath = framePath.String
		rec.ScreenPath = screenPath.String
		rec.Confidence = conf.String
		rec.ActiveApps = apps.String
		rec.Username = username.String
		rec.Device = device.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectColumns = `SELECT id, timestamp, event, frame_path, screen_path, confidence, active_apps, username, device FROM logs`

// GetLogs returns all records, newest first. Used by the log browser.
func (r *Recorder) GetLogs() ([]models.LogRecord, error) {
	rows, err := r.db.Query(selectColumns + ` ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	return scanRecords(rows)
}

// GetLogsSince returns records at or after t, newest first.
func (r *Recorder) GetLogsSince(t time.Time) ([]models.LogRecord, error) {
	rows, err := r.db.Query(selectColumns+` WHERE timestamp >= ? ORDER BY timestamp DESC`,
		t.Format(models.TimestampLayout))
	if err != nil {
		return nil, fmt.Errorf("query logs since %v: %w", t, err)
	}
	return scanRecords(rows)
}

// GetLogsByKind returns records of one event kind, newest first.
func (r *Recorder) GetLogsByKind(kind models.EventKind) ([]models.LogRecord, error) {
	rows, err := r.db.Query(selectColumns+` WHERE event = ? ORDER BY timestamp DESC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query logs for %s: %w", kind, err)
	}
	return scanRecords(rows)
}

// imagePathsBefore lists the image files referenced by records older
// than the cutoff.
func (r *Recorder) imagePathsBefore(cutoff string) ([]string, error) {
	rows, err := r.db.Query(`SELECT frame_path, screen_path FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var frame, screen sql.NullString
		if err := rows.Scan(&frame, &screen); err != nil {
			return nil, err
		}
		paths = append(paths, frame.String, screen.String)
	}
	return lo.Filter(paths, func(p string, _ int) bool { return p != "" }), rows.Err()
}
