// Package store keeps the node's local journal: every chirp the node sent or
// dropped, and the sensor readings behind them. It is a diagnostic record;
// nothing is ever re-sent from it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Chirp statuses.
const (
	StatusSent    = "sent"
	StatusDropped = "dropped"
)

type Entry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Topic   string    `json:"topic"`
	Payload string    `json:"payload"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	Size    int       `json:"size"`
}

type Reading struct {
	At     time.Time `json:"at"`
	Sensor string    `json:"sensor"`
	Value  float64   `json:"value"`
	Status uint8     `json:"status"`
}

// Summary counts journal entries by status.
type Summary struct {
	Sent    int `json:"sent"`
	Dropped int `json:"dropped"`
}

type Journal struct {
	db   *sql.DB
	keep int
}

func OpenMemory() (*Journal, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("unable to create database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return open(db, 0)
}

// Open opens or creates the journal at file. keep bounds the number of chirp
// rows retained; 0 keeps everything.
func Open(file string, keep int) (*Journal, error) {
	file, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("unable to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("unable to create database file: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(db, keep)
}

func open(db *sql.DB, keep int) (*Journal, error) {
	if err := initDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialize database: %w", err)
	}
	return &Journal{db: db, keep: keep}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e and trims the oldest rows beyond the retention limit.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"insert into t_chirps(at_ms, topic, payload, status, reason, size) values ($1, $2, $3, $4, $5, $6)",
		e.At.UnixMilli(), e.Topic, e.Payload, e.Status, e.Reason, e.Size)
	if err != nil {
		return fmt.Errorf("record chirp: %w", err)
	}
	if j.keep > 0 {
		_, err = j.db.ExecContext(ctx,
			"delete from t_chirps where id <= (select max(id) from t_chirps) - $1", j.keep)
		if err != nil {
			return fmt.Errorf("trim journal: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first. status filters by status
// when non-empty.
func (j *Journal) Recent(ctx context.Context, limit int, status string) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "select id, at_ms, topic, payload, status, reason, size from t_chirps order by id desc limit $1"
	args := []any{limit}
	if status != "" {
		query = "select id, at_ms, topic, payload, status, reason, size from t_chirps where status = $1 order by id desc limit $2"
		args = []any{status, limit}
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var atMs int64
		if err := rows.Scan(&e.ID, &atMs, &e.Topic, &e.Payload, &e.Status, &e.Reason, &e.Size); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := j.db.QueryRowContext(ctx,
		`select
			coalesce(sum(case when status = 'sent' then 1 else 0 end), 0),
			coalesce(sum(case when status = 'dropped' then 1 else 0 end), 0)
		from t_chirps`).Scan(&s.Sent, &s.Dropped)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize journal: %w", err)
	}
	return s, nil
}

func (j *Journal) RecordReading(ctx context.Context, r Reading) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"insert into t_readings(at_ms, sensor, value, status) values ($1, $2, $3, $4)",
		r.At.UnixMilli(), r.Sensor, r.Value, r.Status)
	if err != nil {
		return fmt.Errorf("record reading: %w", err)
	}
	return nil
}

// Readings returns the readings of sensor since the given time, oldest first.
func (j *Journal) Readings(ctx context.Context, sensor string, since time.Time) ([]Reading, error) {
	rows, err := j.db.QueryContext(ctx,
		"select at_ms, sensor, value, status from t_readings where sensor = $1 and at_ms >= $2 order by at_ms, id",
		sensor, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		var atMs int64
		if err := rows.Scan(&atMs, &r.Sensor, &r.Value, &r.Status); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(atMs)
		out = append(out, r)
	}
	return out, rows.Err()
}
