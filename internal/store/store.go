// Package store owns every persisted row: presence accounts, active
// conditions, and the append-only action log. All mutation done by callers
// is read-modify-write per key; the store itself never performs arithmetic,
// so the schema stays portable across storage backends.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Store wraps a sql.DB connection to the SQLite database.
type Store struct {
	conn *sql.DB
}

// Account is one subject's presence record. SessionStart is non-nil iff the
// subject currently has an open session.
type Account struct {
	SubjectID    string
	Accumulated  time.Duration
	SessionStart *time.Time
}

// Open returns true if the account has an open session.
func (a *Account) Open() bool { return a.SessionStart != nil }

// Condition is an active labeled condition for a (subject, category) pair.
type Condition struct {
	ID          string
	SubjectID   string
	Category    string
	Label       string
	Description string
	Remedy      string
	Tier        string
	IssuedBy    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Action is one append-only audit record of who did what to whom.
type Action struct {
	ID         int64
	ActorID    string
	SubjectID  string
	ActionType string
	At         time.Time
}

// ActionStats aggregates the action log for one identity: actions they
// issued (Given) and actions issued against them (Received), keyed by
// action type.
type ActionStats struct {
	Given    map[string]int
	Received map[string]int
}

// Open creates a new Store connection and runs all pending migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

func migrate(conn *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// --- Account Methods ---

// GetAccount retrieves a presence account, or nil if none exists.
func (s *Store) GetAccount(ctx context.Context, subjectID string) (*Account, error) {
	var (
		a       Account
		accumMS int64
		startMS sql.NullInt64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT subject_id, accumulated_ms, session_start_ms FROM presence_account WHERE subject_id = ?`,
		subjectID,
	).Scan(&a.SubjectID, &accumMS, &startMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", subjectID, err)
	}
	a.Accumulated = time.Duration(accumMS) * time.Millisecond
	if startMS.Valid {
		t := fromMillis(startMS.Int64)
		a.SessionStart = &t
	}
	return &a, nil
}

// PutAccount upserts a presence account with the given accumulated total and
// session start (nil clears the open session).
func (s *Store) PutAccount(ctx context.Context, a *Account) error {
	var startMS any
	if a.SessionStart != nil {
		startMS = toMillis(*a.SessionStart)
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO presence_account (subject_id, accumulated_ms, session_start_ms)
		 VALUES (?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET accumulated_ms = excluded.accumulated_ms, session_start_ms = excluded.session_start_ms`,
		a.SubjectID, a.Accumulated.Milliseconds(), startMS,
	)
	if err != nil {
		return fmt.Errorf("put account %q: %w", a.SubjectID, err)
	}
	return nil
}

// RankAccounts returns all accounts ordered by accumulated time descending,
// ties broken by subject_id ascending for determinism.
func (s *Store) RankAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT subject_id, accumulated_ms, session_start_ms FROM presence_account
		 ORDER BY accumulated_ms DESC, subject_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("rank accounts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var accounts []Account
	for rows.Next() {
		var (
			a       Account
			accumMS int64
			startMS sql.NullInt64
		)
		if err := rows.Scan(&a.SubjectID, &accumMS, &startMS); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Accumulated = time.Duration(accumMS) * time.Millisecond
		if startMS.Valid {
			t := fromMillis(startMS.Int64)
			a.SessionStart = &t
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Condition Methods ---

const conditionColumns = `id, subject_id, category, label, description, remedy, tier, issued_by, issued_at_ms, expires_at_ms`

func scanCondition(scanner interface{ Scan(...any) error }, c *Condition) error {
	var issuedMS, expiresMS int64
	if err := scanner.Scan(&c.ID, &c.SubjectID, &c.Category, &c.Label, &c.Description, &c.Remedy, &c.Tier, &c.IssuedBy, &issuedMS, &expiresMS); err != nil {
		return err
	}
	c.IssuedAt = fromMillis(issuedMS)
	c.ExpiresAt = fromMillis(expiresMS)
	return nil
}

// GetCondition retrieves the row for (subject, category) regardless of
// expiry, or nil if none exists. Expiry filtering is the registry's job.
func (s *Store) GetCondition(ctx context.Context, subjectID, category string) (*Condition, error) {
	c := &Condition{}
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+conditionColumns+` FROM condition WHERE subject_id = ? AND category = ?`,
		subjectID, category,
	)
	if err := scanCondition(row, c); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get condition %q/%q: %w", subjectID, category, err)
	}
	return c, nil
}

// InsertCondition stores a new condition row.
func (s *Store) InsertCondition(ctx context.Context, c *Condition) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO condition (`+conditionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SubjectID, c.Category, c.Label, c.Description, c.Remedy, c.Tier, c.IssuedBy,
		toMillis(c.IssuedAt), toMillis(c.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert condition %q/%q: %w", c.SubjectID, c.Category, err)
	}
	return nil
}

// DeleteCondition removes the row for (subject, category) and reports
// whether a row was removed.
func (s *Store) DeleteCondition(ctx context.Context, subjectID, category string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM condition WHERE subject_id = ? AND category = ?`,
		subjectID, category,
	)
	if err != nil {
		return false, fmt.Errorf("delete condition %q/%q: %w", subjectID, category, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete condition rows affected: %w", err)
	}
	return n > 0, nil
}

// ListConditions returns all condition rows for a subject, expired or not,
// ordered by category for determinism.
func (s *Store) ListConditions(ctx context.Context, subjectID string) ([]Condition, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+conditionColumns+` FROM condition WHERE subject_id = ? ORDER BY category ASC`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conditions %q: %w", subjectID, err)
	}
	defer rows.Close() //nolint:errcheck

	var conditions []Condition
	for rows.Next() {
		var c Condition
		if err := scanCondition(rows, &c); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

// DeleteExpiredConditions removes every row with expires_at <= now, across
// all subjects and categories, and returns the number removed.
func (s *Store) DeleteExpiredConditions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM condition WHERE expires_at_ms <= ?`, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired conditions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rows affected: %w", err)
	}
	return int(n), nil
}

// --- Action Log Methods ---

// InsertAction appends an audit record and returns its ID.
func (s *Store) InsertAction(ctx context.Context, a *Action) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO action_log (actor_id, subject_id, action_type, at_ms) VALUES (?, ?, ?, ?)`,
		a.ActorID, a.SubjectID, a.ActionType, toMillis(a.At),
	)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return res.LastInsertId()
}

// ListRecentActions returns the newest actions first, up to limit.
func (s *Store) ListRecentActions(ctx context.Context, limit int) ([]Action, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, actor_id, subject_id, action_type, at_ms FROM action_log
		 ORDER BY at_ms DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent actions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var actions []Action
	for rows.Next() {
		var (
			a    Action
			atMS int64
		)
		if err := rows.Scan(&a.ID, &a.ActorID, &a.SubjectID, &a.ActionType, &atMS); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.At = fromMillis(atMS)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// GetActionStats aggregates given/received counts per action type for one
// identity.
func (s *Store) GetActionStats(ctx context.Context, id string) (*ActionStats, error) {
	stats := &ActionStats{
		Given:    make(map[string]int),
		Received: make(map[string]int),
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT action_type, COUNT(*) FROM action_log WHERE actor_id = ? GROUP BY action_type`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("action stats given %q: %w", id, err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var (
			actionType string
			count      int
		)
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("scan action stat: %w", err)
		}
		stats.Given[actionType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx,
		`SELECT action_type, COUNT(*) FROM action_log WHERE subject_id = ? GROUP BY action_type`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("action stats received %q: %w", id, err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var (
			actionType string
			count      int
		)
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("scan action stat: %w", err)
		}
		stats.Received[actionType] = count
	}
	return stats, rows.Err()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
