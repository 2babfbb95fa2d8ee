// Package account validates operator logins against a SQLite record store.
// Passwords are kept as bcrypt hashes.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExists             = errors.New("account already exists")
)

// SQLiteStore is the login record store.
type SQLiteStore struct {
	db   *sql.DB
	cost int
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A private in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, cost: bcrypt.DefaultCost}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			login_id      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL,
			last_login_at DATETIME
		);
	`)
	return err
}

// Add stores a new login. Login IDs are compared after trimming spaces.
func (s *SQLiteStore) Add(ctx context.Context, loginID, password string) error {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" || password == "" {
		return errors.New("login id and password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (login_id, password_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(login_id) DO NOTHING
	`, loginID, string(hash), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, loginID)
	}
	return nil
}

// SetPassword replaces the password of an existing login.
func (s *SQLiteStore) SetPassword(ctx context.Context, loginID, password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET password_hash = ? WHERE login_id = ?`,
		string(hash), strings.TrimSpace(loginID))
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: unknown login %s", ErrInvalidCredentials, loginID)
	}
	return nil
}

// Validate checks a login and records its time. Unknown IDs and wrong
// passwords are indistinguishable to the caller.
func (s *SQLiteStore) Validate(ctx context.Context, loginID, password string) error {
	loginID = strings.TrimSpace(loginID)
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM accounts WHERE login_id = ?`, loginID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(password))); err != nil {
		return ErrInvalidCredentials
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_login_at = ? WHERE login_id = ?`,
		time.Now().UTC(), loginID); err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
