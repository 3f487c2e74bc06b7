package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// #region schema
var schemas = map[string]string{
	"sqlite": `
CREATE TABLE IF NOT EXISTS prediction_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id     TEXT NOT NULL,
	model_version  TEXT NOT NULL,
	input_json     TEXT NOT NULL,
	label          TEXT NOT NULL,
	probability    REAL NOT NULL,
	unknown_fields TEXT NOT NULL DEFAULT '',
	latency_ms     REAL NOT NULL,
	created_at     TEXT NOT NULL
)`,
	"postgres": `
CREATE TABLE IF NOT EXISTS prediction_log (
	id             BIGSERIAL PRIMARY KEY,
	request_id     TEXT NOT NULL,
	model_version  TEXT NOT NULL,
	input_json     TEXT NOT NULL,
	label          TEXT NOT NULL,
	probability    DOUBLE PRECISION NOT NULL,
	unknown_fields TEXT NOT NULL DEFAULT '',
	latency_ms     DOUBLE PRECISION NOT NULL,
	created_at     TEXT NOT NULL
)`,
}

// #endregion schema

// #region types
// Entry is one served prediction.
type Entry struct {
	RequestID    string
	ModelVersion string
	InputJSON    string
	Label        string
	Probability  float64
	Unknown      []string
	Latency      time.Duration
	CreatedAt    time.Time
}

type row struct {
	ID            int64   `db:"id"`
	RequestID     string  `db:"request_id"`
	ModelVersion  string  `db:"model_version"`
	InputJSON     string  `db:"input_json"`
	Label         string  `db:"label"`
	Probability   float64 `db:"probability"`
	UnknownFields string  `db:"unknown_fields"`
	LatencyMS     float64 `db:"latency_ms"`
	CreatedAt     string  `db:"created_at"`
}

// #endregion types

// #region log
// Log appends prediction entries to a SQL table.
type Log struct {
	db *sqlx.DB
}

// Open connects to dsn, which is sqlite://path or a postgres:// URL, and
// creates the table if needed.
func Open(dsn string) (*Log, error) {
	driver, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if driver == "sqlite" {
		// one writer
		db.SetMaxOpenConns(1)
	}
	l, err := NewLog(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewLog wraps an open connection and migrates it.
func NewLog(db *sqlx.DB) (*Log, error) {
	ddl, ok := schemas[db.DriverName()]
	if !ok {
		return nil, fmt.Errorf("audit: unsupported driver %q", db.DriverName())
	}
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("migrate audit: %w", err)
	}
	return &Log{db: db}, nil
}

func parseDSN(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	default:
		return "", "", fmt.Errorf("audit: unsupported dsn %q", dsn)
	}
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends e. CreatedAt defaults to now.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := l.db.Rebind(`INSERT INTO prediction_log
		(request_id, model_version, input_json, label, probability, unknown_fields, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, query,
		e.RequestID,
		e.ModelVersion,
		e.InputJSON,
		e.Label,
		e.Probability,
		strings.Join(e.Unknown, ","),
		float64(e.Latency.Microseconds())/1000,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var rows []row
	query := l.db.Rebind(`SELECT id, request_id, model_version, input_json, label, probability,
		unknown_fields, latency_ms, created_at
		FROM prediction_log ORDER BY id DESC LIMIT ?`)
	if err := l.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}

	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", r.RequestID, err)
		}
		var unknown []string
		if r.UnknownFields != "" {
			unknown = strings.Split(r.UnknownFields, ",")
		}
		out = append(out, Entry{
			RequestID:    r.RequestID,
			ModelVersion: r.ModelVersion,
			InputJSON:    r.InputJSON,
			Label:        r.Label,
			Probability:  r.Probability,
			Unknown:      unknown,
			Latency:      time.Duration(r.LatencyMS * float64(time.Millisecond)),
			CreatedAt:    created,
		})
	}
	return out, nil
}

// #endregion log
