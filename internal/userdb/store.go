// Package userdb holds user credentials: a store contract with in-memory and
// SQLite implementations, and the secret encodings used to verify logins.
package userdb

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var ErrNotFound = errorString("user_not_found")

type errorString string

func (e errorString) Error() string { return string(e) }

// FoldName is the key a user name is stored and looked up under: NFC
// normalized and case folded, so ALICE and alice are one user.
func FoldName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// Credential is one user record.
type Credential struct {
	Name      string
	Secret    string
	Privilege int
}

// Store looks up user records by folded name. Lookup returns ErrNotFound
// for unknown names.
type Store interface {
	Lookup(name string) (Credential, error)
}

// MemoryStore is a Store kept in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]Credential)}
}

func (m *MemoryStore) Put(c Credential) {
	m.mu.Lock()
	m.users[FoldName(c.Name)] = c
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(name string) {
	m.mu.Lock()
	delete(m.users, FoldName(name))
	m.mu.Unlock()
}

func (m *MemoryStore) Lookup(name string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.users[FoldName(name)]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.users))
	for n := range m.users {
		names = append(names, n)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}
