package userdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPasswordSchemes(t *testing.T) {
	hashed, err := HashPassword("s3cret")
	require.NoError(t, err)

	cases := []struct {
		name   string
		secret string
	}{
		{"bcrypt", hashed},
		{"sha256", DigestSecret("s3cret")},
		{"plain", SchemePlain + "s3cret"},
		{"bare", "s3cret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, VerifyPassword(tc.secret, "s3cret"))
			assert.False(t, VerifyPassword(tc.secret, "wrong"))
		})
	}
}

func TestVerifyChallenge(t *testing.T) {
	key := ChallengeKey("s3cret")
	resp := ChallengeResponse(key, "abc123")

	assert.True(t, VerifyChallenge(DigestSecret("s3cret"), "abc123", resp))
	assert.True(t, VerifyChallenge(SchemePlain+"s3cret", "abc123", resp))
	assert.False(t, VerifyChallenge(SchemePlain+"s3cret", "other-seed", resp))
	assert.False(t, VerifyChallenge(DigestSecret("nope"), "abc123", resp))

	hashed, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.False(t, SupportsChallenge(hashed))
	assert.False(t, VerifyChallenge(hashed, "abc123", resp))
}

func TestMemoryStoreLookup(t *testing.T) {
	m := NewMemoryStore()
	m.Put(Credential{Name: "alice", Secret: "x", Privilege: 2})

	c, err := m.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Privilege)

	_, err = m.Lookup("bob")
	assert.ErrorIs(t, err, ErrNotFound)

	m.Delete("alice")
	assert.Empty(t, m.Names())
}

func TestSQLStoreRoundTrip(t *testing.T) {
	s, err := OpenSQLStore(filepath.Join(t.TempDir(), "db", "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Put(Credential{Name: "alice", Secret: DigestSecret("pw"), Privilege: 1}))
	require.NoError(t, s.Put(Credential{Name: "alice", Secret: DigestSecret("pw2"), Privilege: 3}))

	c, err := s.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Privilege)
	assert.True(t, VerifyPassword(c.Secret, "pw2"))

	_, err = s.Lookup("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete("alice"))
	_, err = s.Lookup("alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoresFoldNames(t *testing.T) {
	sqlStore, err := OpenSQLStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })
	require.NoError(t, sqlStore.Put(Credential{Name: "Alice", Secret: DigestSecret("pw"), Privilege: 1}))

	mem := NewMemoryStore()
	mem.Put(Credential{Name: "Alice", Secret: DigestSecret("pw"), Privilege: 1})

	for name, store := range map[string]Store{"memory": mem, "sqlite": sqlStore} {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"alice", "ALICE", " Alice "} {
				c, err := store.Lookup(n)
				require.NoError(t, err, n)
				assert.Equal(t, 1, c.Privilege)
			}
		})
	}
	assert.Equal(t, "alice", FoldName("ALICE"))
	assert.Equal(t, FoldName("zoë"), FoldName("ZOË"))
}
