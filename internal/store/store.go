// Package store persists harvested case records in sqlite or a remote
// libsql database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fkd-backend/internal/components/assert"
	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/scrapers/fkd"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

var ErrNotFound = errors.New("case not found")

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

var remoteSchemes = []string{"libsql://", "https://", "http://", "wss://", "ws://"}

// OpenDB opens dsn, which is either a sqlite file path (optionally
// prefixed with "file:"), ":memory:" or a remote libsql url.
func OpenDB(dsn, authToken string) (*sql.DB, error) {
	if dsn == "" {
		return nil, wrapOpenDB(errors.New("a database was not specified"))
	}

	for _, scheme := range remoteSchemes {
		if !strings.HasPrefix(dsn, scheme) {
			continue
		}
		if authToken != "" {
			values := url.Values{}
			values.Add("authToken", authToken)
			dsn += "?" + values.Encode()
		}
		db, err := sql.Open("libsql", dsn)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
		return db, nil
	}

	path := strings.TrimPrefix(dsn, "file:")
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, wrapOpenDB(err)
		}
	}
	return db, nil
}

type Store struct {
	db    *sql.DB
	clock chrono.API
}

// New creates the schema if needed and returns a store over db.
func New(ctx context.Context, db *sql.DB, clock chrono.API) (*Store, error) {
	assert.NotNil(db)
	assert.NotNil(clock)

	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, clock: clock}, nil
}

// Open is OpenDB followed by New.
func Open(ctx context.Context, dsn, authToken string, clock chrono.API) (*Store, error) {
	db, err := OpenDB(dsn, authToken)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, clock)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, record fkd.CaseRecord) error {
	if record.CaseId == "" {
		return errors.New("put case: record has no case id")
	}
	serialized, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("put case: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`insert into cases(id, name, url, record, updated_at) values (?, ?, ?, ?, ?)
		on conflict(id) do update set
			name = excluded.name,
			url = excluded.url,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		record.CaseId,
		record.CaseName,
		record.Url,
		string(serialized),
		s.clock.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put case %s: %w", record.CaseId, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (fkd.CaseRecord, error) {
	var serialized string
	err := s.db.QueryRowContext(ctx, "select record from cases where id = ?", id).Scan(&serialized)
	if errors.Is(err, sql.ErrNoRows) {
		return fkd.CaseRecord{}, fmt.Errorf("get case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fkd.CaseRecord{}, fmt.Errorf("get case %s: %w", id, err)
	}

	var record fkd.CaseRecord
	err = json.Unmarshal([]byte(serialized), &record)
	if err != nil {
		return fkd.CaseRecord{}, fmt.Errorf("decode case %s: %w", id, err)
	}
	return record, nil
}

// Summary is a stored case without its record body.
type Summary struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Url       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns every stored case ordered by id.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, "select id, name, url, updated_at from cases order by id")
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			summary   Summary
			updatedAt int64
		)
		err := rows.Scan(&summary.Id, &summary.Name, &summary.Url, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("list cases: %w", err)
		}
		summary.UpdatedAt = time.Unix(updatedAt, 0).In(s.clock.Location())
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return summaries, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "delete from cases where id = ?", id)
	if err != nil {
		return fmt.Errorf("delete case %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete case %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete case %s: %w", id, ErrNotFound)
	}
	return nil
}
