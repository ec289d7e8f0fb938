// Package archive is the append-only audit log of jobs, renames, webhooks
// and errors, kept in SQLite.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUnknownKind is returned for a kind outside Kinds
	ErrUnknownKind = errors.New("unknown archive type")

	// ErrNotClearable is returned when clearing anything but errors
	ErrNotClearable = errors.New("archive type cannot be cleared")

	// ErrInvalidDate is returned for unparseable start/end bounds
	ErrInvalidDate = errors.New("invalid date")
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store is a SQLite-backed archive
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the archive database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, t := range tables {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				%s
			)`, t.name, t.ddl),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s(timestamp)`, t.name, t.name),
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", t.name, err)
			}
		}
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database handle
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Append stores r, filling in its ID and, when zero, its Timestamp
func (s *Store) Append(ctx context.Context, r Record) error {
	t, ok := tables[r.Kind()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, r.Kind())
	}

	m := r.meta()
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Timestamp = m.Timestamp.UTC().Truncate(time.Microsecond)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)+1), ", ")
	query := fmt.Sprintf(`INSERT INTO %s (timestamp, %s) VALUES (%s)`,
		t.name, strings.Join(t.columns, ", "), placeholders)

	args := append([]any{formatTimestamp(m.Timestamp)}, t.values(r)...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("append %s record: %w", r.Kind(), err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

// Query selects one page of records of a kind
type Query struct {
	Page  int
	Limit int
	// Start and End are YYYY-MM-DD or RFC 3339. A date-only End covers the whole day.
	Start string
	End   string
}

// Page is a page of records, newest first
type Page struct {
	Items   []Record `json:"items"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
	HasMore bool     `json:"has_more"`
}

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tables[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Query returns a page of records of kind
func (s *Store) Query(ctx context.Context, kind Kind, q Query) (*Page, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	var (
		where []string
		args  []any
	)
	if q.Start != "" {
		start, _, err := parseBound(q.Start)
		if err != nil {
			return nil, err
		}
		where = append(where, "timestamp >= ?")
		args = append(args, formatTimestamp(start))
	}
	if q.End != "" {
		end, dateOnly, err := parseBound(q.End)
		if err != nil {
			return nil, err
		}
		if dateOnly {
			where = append(where, "timestamp < ?")
			args = append(args, formatTimestamp(end.AddDate(0, 0, 1)))
		} else {
			where = append(where, "timestamp <= ?")
			args = append(args, formatTimestamp(end))
		}
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, t.name, whereSQL), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count %s records: %w", kind, err)
	}

	query := fmt.Sprintf(`SELECT id, timestamp, %s FROM %s %s ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		strings.Join(t.columns, ", "), t.name, whereSQL)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	items := []Record{}
	for rows.Next() {
		r, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}

	return &Page{
		Items:   items,
		Total:   total,
		Page:    q.Page,
		Limit:   q.Limit,
		HasMore: q.Page*q.Limit < total,
	}, nil
}

// Clear deletes every record of kind. Only error records may be cleared.
func (s *Store) Clear(ctx context.Context, kind Kind) (int64, error) {
	t, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if kind != KindError {
		return 0, fmt.Errorf("%w: %s", ErrNotClearable, kind)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t.name))
	if err != nil {
		return 0, fmt.Errorf("clear %s records: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// parseBound accepts YYYY-MM-DD (reported as dateOnly) or RFC 3339
func parseBound(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
