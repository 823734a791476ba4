package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

// Store is a SQLite implementation of SessionStore
type Store struct {
	db *sql.DB
}

var _ ports.SessionStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			call_id TEXT,
			status TEXT NOT NULL,
			customer_name TEXT,
			customer_number TEXT,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = domain.SessionStatusPending
	}

	query := `INSERT INTO sessions (id, call_id, status, customer_name, customer_number, error, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.CallID, string(sess.Status), sess.Customer.Name, sess.Customer.Number,
		sess.Error, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.Errorf(domain.ErrorKindDuplicateSession, "session %s already exists", sess.ID)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT id, call_id, status, customer_name, customer_number, error, created_at, updated_at
	          FROM sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrorKindSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, update ports.SessionUpdate) error {
	query := `UPDATE sessions SET
	            status = COALESCE(NULLIF(?, ''), status),
	            call_id = COALESCE(NULLIF(?, ''), call_id),
	            error = COALESCE(NULLIF(?, ''), error),
	            updated_at = ?
	          WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(update.Status), update.CallID, update.Error, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.Errorf(domain.ErrorKindSessionNotFound, "session %s not found", id)
	}

	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts ports.ListOptions) ([]*domain.Session, error) {
	query := `SELECT id, call_id, status, customer_name, customer_number, error, created_at, updated_at
	          FROM sessions`
	var args []any

	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var status string
	var callID, name, number, errMsg sql.NullString

	if err := row.Scan(&sess.ID, &callID, &status, &name, &number, &errMsg, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}

	sess.Status = domain.SessionStatus(status)
	sess.CallID = callID.String
	sess.Customer = domain.Customer{Name: name.String, Number: number.String}
	sess.Error = errMsg.String
	return &sess, nil
}
