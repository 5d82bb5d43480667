// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens the database at dsn and returns a store that closes it
// on Close.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close releases the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	detail, err := encodeDetail(event.Detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO concord_audit_events (
			run_id, stage, kind, unit, role, round, message, detail_json, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Stage,
		string(event.Kind),
		event.Unit,
		event.Role,
		event.Round,
		event.Message,
		string(detail),
		stamp(event.At),
	)
	return err
}

// List returns audit events matching the filter in record order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT run_id, stage, kind, unit, role, round, message, detail_json, at
		FROM concord_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Stage != "" {
		addFilter("stage = ?", filter.Stage)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", string(filter.Kind))
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			kind       string
			detailJSON sql.NullString
			at         sql.NullTime
		)
		if err := rows.Scan(
			&event.RunID,
			&event.Stage,
			&kind,
			&event.Unit,
			&event.Role,
			&event.Round,
			&event.Message,
			&detailJSON,
			&at,
		); err != nil {
			return nil, err
		}
		event.Kind = Kind(kind)
		if detailJSON.Valid && detailJSON.String != "" {
			if detail, err := decodeDetail([]byte(detailJSON.String)); err == nil {
				event.Detail = detail
			}
		}
		if at.Valid {
			event.At = at.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS concord_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			kind TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			round INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			detail_json TEXT,
			at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_concord_audit_run ON concord_audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_concord_audit_stage ON concord_audit_events(stage);
		CREATE INDEX IF NOT EXISTS idx_concord_audit_kind ON concord_audit_events(kind);
	`)
	return err
}
