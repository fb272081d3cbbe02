package userdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLStore keeps user records in a SQLite database.
type SQLStore struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLStore opens (creating if needed) the database at dbPath.
func OpenSQLStore(dbPath string) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		name TEXT PRIMARY KEY,
		secret TEXT NOT NULL,
		privilege INTEGER NOT NULL DEFAULT 0
	);`)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Lookup(name string) (Credential, error) {
	var c Credential
	err := s.db.QueryRow(`SELECT name, secret, privilege FROM users WHERE name = ?`, FoldName(name)).
		Scan(&c.Name, &c.Secret, &c.Privilege)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("lookup %s: %w", name, err)
	}
	return c, nil
}

// Put inserts or replaces a user record. Names are stored folded.
func (s *SQLStore) Put(c Credential) error {
	_, err := s.db.Exec(`
	INSERT INTO users (name, secret, privilege) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET secret = excluded.secret, privilege = excluded.privilege`,
		FoldName(c.Name), c.Secret, c.Privilege)
	if err != nil {
		return fmt.Errorf("put %s: %w", c.Name, err)
	}
	return nil
}

func (s *SQLStore) Delete(name string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE name = ?`, FoldName(name))
	return err
}
