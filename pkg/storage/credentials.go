// Package storage provides the relay's account database. The relay core only
// reads from it during authentication; account management happens out of band.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

const (
	// PBKDF2 iterations (100,000 is the recommended minimum)
	pbkdf2Iterations = 100000
	saltSize         = 16
	hashSize         = 32
)

// CredentialStore maps usernames to password hashes, backed by SQLite.
// Safe for concurrent use; database/sql serializes access per connection and
// the store never mutates after seeding except through AddUser.
type CredentialStore struct {
	db *sql.DB
}

// defaultAccounts is the fixed set seeded on first run.
var defaultAccounts = []struct {
	username string
	password string
}{
	{"admin", "123"},
	{"user1", "123"},
	{"client", "1"},
}

// NewCredentialStore opens (creating if needed) the account database at
// dbPath and seeds the default accounts when the table is empty.
func NewCredentialStore(dbPath string) (*CredentialStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	store := &CredentialStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	if err := store.seedDefaults(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *CredentialStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		username TEXT PRIMARY KEY COLLATE NOCASE,
		password_hash BLOB NOT NULL,
		salt BLOB NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// seedDefaults inserts the default account set on first run only.
func (s *CredentialStore) seedDefaults() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return fmt.Errorf("failed to count accounts: %v", err)
	}

	if count > 0 {
		return nil
	}

	for _, acct := range defaultAccounts {
		if err := s.AddUser(acct.username, acct.password); err != nil {
			return fmt.Errorf("failed to seed account %s: %v", acct.username, err)
		}
	}

	return nil
}

// AddUser creates an account with a fresh random salt.
func (s *CredentialStore) AddUser(username, password string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := hashPassword(password, salt)

	_, err := s.db.Exec(
		"INSERT INTO accounts (username, password_hash, salt) VALUES (?, ?, ?)",
		username, hash, salt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserExists, err)
	}

	return nil
}

// VerifyCredentials reports whether the username/password pair matches a
// stored account. Username matching is case-insensitive; the comparison of
// hashes is constant-time.
func (s *CredentialStore) VerifyCredentials(username, password string) bool {
	var storedHash, salt []byte

	err := s.db.QueryRow(
		"SELECT password_hash, salt FROM accounts WHERE username = ?",
		username,
	).Scan(&storedHash, &salt)
	if err != nil {
		return false
	}

	hash := hashPassword(password, salt)
	return subtle.ConstantTimeCompare(hash, storedHash) == 1
}

// Close closes the underlying database.
func (s *CredentialStore) Close() error {
	return s.db.Close()
}

func hashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, hashSize, sha256.New)
}
