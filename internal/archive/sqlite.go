// Package archive keeps a queryable SQLite copy of every sealed generation,
// across components, next to the per-component history file.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/helix/internal/tracker"
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS generations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    component     TEXT NOT NULL,
    gen_id        INTEGER NOT NULL,
    parent_gen_id INTEGER,
    status        TEXT NOT NULL,
    sealed_at     TEXT NOT NULL,
    record        TEXT NOT NULL,
    archived_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS generations_component_gen ON generations (component, gen_id);

CREATE TABLE IF NOT EXISTS metrics (
    generation INTEGER NOT NULL REFERENCES generations(id),
    seq        INTEGER NOT NULL,
    name       TEXT NOT NULL,
    value      TEXT NOT NULL,
    PRIMARY KEY (generation, seq)
);

CREATE INDEX IF NOT EXISTS metrics_name ON metrics (name);
`

// Archive stores generation records in a local SQLite database in WAL mode.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive at dbPath, enables WAL mode and busy
// timeout, and creates the schema if it does not exist.
func Open(ctx context.Context, dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}

	// SQLite supports a single writer; one connection keeps the PRAGMAs
	// below in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Persist appends one generation record together with its metrics in a
// single transaction.
func (a *Archive) Persist(ctx context.Context, r tracker.Record) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("archive: encode generation %d: %w", r.GenID, err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx,
		`INSERT INTO generations (component, gen_id, parent_gen_id, status, sealed_at, record)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Component, r.GenID, r.ParentGenID, r.Status.String(), r.Timestamp, string(blob))
	if err != nil {
		return fmt.Errorf("archive: insert generation %s/%d: %w", r.Component, r.GenID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("archive: generation row id: %w", err)
	}

	if len(r.Metrics) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO metrics (generation, seq, name, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("archive: prepare metric insert: %w", err)
		}
		defer stmt.Close()

		for i, m := range r.Metrics {
			v, err := json.Marshal(m.Value)
			if err != nil {
				return fmt.Errorf("archive: encode metric %q: %w", m.Name, err)
			}
			if _, err := stmt.ExecContext(ctx, rowID, i, m.Name, string(v)); err != nil {
				return fmt.Errorf("archive: insert metric %q: %w", m.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit generation %d: %w", r.GenID, err)
	}
	return nil
}

// PersistFunc adapts Persist to the tracker's persistence callback.
func (a *Archive) PersistFunc(ctx context.Context) tracker.PersistFunc {
	return func(r tracker.Record) error {
		return a.Persist(ctx, r)
	}
}

// List returns the archived records of component in generation order.
func (a *Archive) List(ctx context.Context, component string) ([]tracker.Record, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT record FROM generations WHERE component = ? ORDER BY gen_id, id`, component)
	if err != nil {
		return nil, fmt.Errorf("archive: query generations: %w", err)
	}
	defer rows.Close()

	var result []tracker.Record
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("archive: scan generation: %w", err)
		}
		var r tracker.Record
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, fmt.Errorf("archive: decode generation: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate generations: %w", err)
	}
	return result, nil
}

// Components returns the distinct component names in the archive, sorted.
func (a *Archive) Components(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT DISTINCT component FROM generations ORDER BY component`)
	if err != nil {
		return nil, fmt.Errorf("archive: query components: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("archive: scan component: %w", err)
		}
		result = append(result, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate components: %w", err)
	}
	return result, nil
}

// Trend returns the first value of metric per archived generation of
// component, in generation order. Values come back JSON-decoded, so numbers
// are float64.
func (a *Archive) Trend(ctx context.Context, component, metric string) ([]tracker.TrendPoint, error) {
	const q = `
		SELECT g.gen_id, m.value
		FROM generations g
		JOIN metrics m ON m.generation = g.id
		WHERE g.component = ? AND m.name = ?
		  AND m.seq = (SELECT MIN(seq) FROM metrics WHERE generation = g.id AND name = m.name)
		ORDER BY g.gen_id, g.id`
	rows, err := a.db.QueryContext(ctx, q, component, metric)
	if err != nil {
		return nil, fmt.Errorf("archive: query trend %q: %w", metric, err)
	}
	defer rows.Close()

	var result []tracker.TrendPoint
	for rows.Next() {
		var (
			gen int
			raw string
		)
		if err := rows.Scan(&gen, &raw); err != nil {
			return nil, fmt.Errorf("archive: scan trend: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("archive: decode metric value: %w", err)
		}
		result = append(result, tracker.TrendPoint{GenID: gen, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate trend: %w", err)
	}
	return result, nil
}
