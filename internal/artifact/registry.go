package artifact

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS artifact_versions (
	version_id  TEXT PRIMARY KEY,
	parent_id   TEXT,
	payload     BLOB NOT NULL,
	dimension   INTEGER NOT NULL,
	source      TEXT,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES artifact_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_artifact (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	version_id  TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES artifact_versions(version_id)
);
`

// #endregion schema

// #region registry-struct
// Registry keeps every committed artifact version in SQLite and tracks which
// one is active. Versions are immutable once inserted.
type Registry struct {
	db *sql.DB
}

// Summary describes a stored version without decoding its payload.
type Summary struct {
	Version   string
	ParentID  string
	Dimension int
	Source    string
	CreatedAt time.Time
	Active    bool
}

// createdAtLayout is fixed width so created_at sorts correctly as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// #endregion registry-struct

// #region constructor
// OpenRegistry opens a SQLite database and runs migrations.
func OpenRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// #endregion constructor

// #region commit
// Commit stores a and makes it the active version. The previously active
// version, if any, becomes its parent.
func (r *Registry) Commit(a *Artifact) error {
	payload, err := Marshal(a)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_artifact WHERE id = 1`).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get active: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO artifact_versions (version_id, parent_id, payload, dimension, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Version, parent, payload, a.Schema.Dimension(), a.Source,
		a.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_artifact (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	return tx.Commit()
}

// #endregion commit

// #region get
// Active decodes the active version.
func (r *Registry) Active() (*Artifact, error) {
	var versionID string
	err := r.db.QueryRow(`SELECT version_id FROM active_artifact WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActive
	}
	if err != nil {
		return nil, fmt.Errorf("get active: %w", err)
	}
	return r.Get(versionID)
}

// Get decodes a specific version.
func (r *Registry) Get(versionID string) (*Artifact, error) {
	var payload []byte
	err := r.db.QueryRow(
		`SELECT payload FROM artifact_versions WHERE version_id = ?`, versionID,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", versionID, err)
	}
	a, err := Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("decode version %s: %w", versionID, err)
	}
	return a, nil
}

// #endregion get

// #region activate
// Activate points the active pointer at an existing version (rollback or
// roll forward).
func (r *Registry) Activate(versionID string) error {
	var exists int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM artifact_versions WHERE version_id = ?`, versionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", versionID)
	}

	_, err = r.db.Exec(
		`INSERT INTO active_artifact (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		versionID,
	)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// #endregion activate

// #region list
// List returns the most recent versions, newest first.
func (r *Registry) List(limit int) ([]Summary, error) {
	rows, err := r.db.Query(
		`SELECT v.version_id, v.parent_id, v.dimension, v.source, v.created_at,
		        CASE WHEN a.version_id IS NULL THEN 0 ELSE 1 END
		 FROM artifact_versions v
		 LEFT JOIN active_artifact a ON a.version_id = v.version_id
		 ORDER BY v.created_at DESC, v.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var parentID, source sql.NullString
		var createdStr string
		var active int
		if err := rows.Scan(&s.Version, &parentID, &s.Dimension, &source, &createdStr, &active); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		s.ParentID = parentID.String
		s.Source = source.String
		s.CreatedAt, err = time.Parse(createdAtLayout, createdStr)
		if err != nil {
			return nil, fmt.Errorf("version %s: parse created_at: %w", s.Version, err)
		}
		s.Active = active == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// #endregion list
