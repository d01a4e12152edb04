package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so received_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteSink stores records using SQLite via modernc.org/sqlite (pure Go).
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = (*SQLiteSink)(nil)

// NewSQLiteSink opens or creates the database at dbPath.
// Use ":memory:" for testing.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sink: open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS responses (
			id           TEXT PRIMARY KEY,
			host         TEXT NOT NULL,
			endpoint     TEXT NOT NULL,
			method       TEXT NOT NULL,
			uri          TEXT NOT NULL,
			status_code  INTEGER NOT NULL,
			headers_json TEXT NOT NULL,
			body         BLOB,
			elapsed_us   INTEGER DEFAULT 0,
			received_at  TEXT NOT NULL
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: create table: %w", err)
	}

	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_responses_host ON responses(host, received_at);
	`
	if _, err := db.Exec(createIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: create index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Write stores rec. A record without ID is assigned a new UUID.
func (s *SQLiteSink) Write(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	headersJSON, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("sink: marshal headers: %w", err)
	}

	query := `
		INSERT INTO responses (id, host, endpoint, method, uri, status_code, headers_json, body, elapsed_us, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Host,
		rec.Endpoint,
		rec.Method,
		rec.URI,
		rec.StatusCode,
		string(headersJSON),
		rec.Body,
		rec.Elapsed.Microseconds(),
		rec.ReceivedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sink: insert record: %w", err)
	}
	return nil
}

// Get returns the record with the given ID, or (nil, nil) if there is none.
func (s *SQLiteSink) Get(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, host, endpoint, method, uri, status_code, headers_json, body, elapsed_us, received_at
		FROM responses WHERE id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("sink: get record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// List returns the most recent records for host, newest first. An empty
// host lists every host; limit <= 0 means no limit.
func (s *SQLiteSink) List(ctx context.Context, host string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, host, endpoint, method, uri, status_code, headers_json, body, elapsed_us, received_at
		FROM responses
		WHERE ? = '' OR host = ?
		ORDER BY received_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, host, host, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var recs []*Record
	for rows.Next() {
		var (
			rec         Record
			headersJSON string
			elapsedUs   int64
			receivedAt  string
		)
		err := rows.Scan(&rec.ID, &rec.Host, &rec.Endpoint, &rec.Method, &rec.URI,
			&rec.StatusCode, &headersJSON, &rec.Body, &elapsedUs, &receivedAt)
		if err != nil {
			return nil, fmt.Errorf("sink: scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(headersJSON), &rec.Headers); err != nil {
			return nil, fmt.Errorf("sink: unmarshal headers: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedUs) * time.Microsecond
		t, err := time.Parse(timeLayout, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("sink: parse received_at %q: %w", receivedAt, err)
		}
		rec.ReceivedAt = t
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sink: iterate rows: %w", err)
	}
	return recs, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
