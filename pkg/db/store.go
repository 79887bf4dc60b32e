package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// RecordKey is the ledger key for a record id.
func RecordKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

const recordColumns = `id, title, body, source, created_at, updated_at`

func scanRecord(s scanner) (Record, error) {
	var r Record
	var source sql.NullString
	if err := s.Scan(&r.ID, &r.Title, &r.Body, &source, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Record{}, err
	}
	if source.Valid {
		r.Source = source.String
	}
	return r, nil
}

// nullableString returns nil for "" else the value.
func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// CreateRecord inserts a new canonical record and returns its id.
func CreateRecord(db DBExecutor, title, body, source string) (int64, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(body) == "" {
		return 0, fmt.Errorf("record must have a title or a body")
	}
	now := time.Now().UTC()
	res, err := db.Exec(
		`INSERT INTO records (title, body, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		title, body, nullableString(source), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

// UpsertRecordBySource inserts a record keyed by its source, or refreshes the
// title and body of the existing one. It returns the record id.
func UpsertRecordBySource(db DBExecutor, title, body, source string) (int64, error) {
	trimmedSource := strings.TrimSpace(source)
	if trimmedSource == "" {
		return 0, fmt.Errorf("source must be non-empty")
	}
	now := time.Now().UTC()
	var id int64
	err := db.QueryRow(`INSERT INTO records (title, body, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) WHERE source IS NOT NULL AND source != ''
		DO UPDATE SET
		  title = excluded.title,
		  body = excluded.body,
		  updated_at = excluded.updated_at
		WHERE records.title != excluded.title OR records.body != excluded.body
		RETURNING id`, title, body, trimmedSource, now, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Unchanged row: the DO UPDATE guard suppressed RETURNING.
		err = db.QueryRow(`SELECT id FROM records WHERE source = ?`, trimmedSource).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert record: %w", err)
	}
	return id, nil
}

// GetRecord returns the record with the given id or ErrNotFound.
func GetRecord(db DBExecutor, id int64) (*Record, error) {
	r, err := scanRecord(db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// unprocessedPageSize bounds each keyset page read by GetUnprocessedRecords.
const unprocessedPageSize = 200

// GetUnprocessedRecords returns records whose key is not in exclude, ordered
// by id so an interrupted pass resumes near where it stopped. limit <= 0
// returns every unprocessed record.
func GetUnprocessedRecords(db DBExecutor, exclude map[string]bool, limit int) ([]Record, error) {
	var out []Record
	var afterID int64
	for {
		page, err := recordsAfter(db, afterID, unprocessedPageSize)
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			afterID = r.ID
			if exclude[RecordKey(r.ID)] {
				continue
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(page) < unprocessedPageSize {
			return out, nil
		}
	}
}

func recordsAfter(db DBExecutor, afterID int64, n int) ([]Record, error) {
	rows, err := db.Query(`SELECT `+recordColumns+` FROM records WHERE id > ? ORDER BY id LIMIT ?`, afterID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountRecords returns the number of canonical records.
func CountRecords(db DBExecutor) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
