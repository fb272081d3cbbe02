package app

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubApp struct {
	id     string
	args   []string
	mu     sync.Mutex
	closed bool
}

func (s *stubApp) ID() string { return s.id }

func (s *stubApp) NewChannel(string, bool, Endpoint) (Session, error) {
	return nil, errors.New("not supported")
}

func (s *stubApp) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func stubFactory(id string, args []string) (Application, error) {
	if id == "broken" {
		return nil, errors.New("world file missing")
	}
	return &stubApp{id: id, args: args}, nil
}

func TestRegistry_CreateOpenExists(t *testing.T) {
	r := NewRegistry(stubFactory, nil)

	a, err := r.Create("nile", []string{"x"})
	require.NoError(t, err)
	assert.True(t, r.Exists("nile"))

	_, err = r.Create("nile", nil)
	assert.ErrorIs(t, err, ErrExists)

	b, err := r.Open("nile", nil)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := r.Open("chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "chat", c.ID())
	assert.Equal(t, []string{"chat", "nile"}, r.List())
}

func TestRegistry_OpenFailureIsOpenError(t *testing.T) {
	r := NewRegistry(stubFactory, nil)

	_, err := r.Open("broken", nil)
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "broken", oe.ID)
	assert.Contains(t, err.Error(), "world file missing")
	assert.False(t, r.Exists("broken"))

	_, err = r.Open("bad/id", nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRegistry_CloseAndCloseAll(t *testing.T) {
	r := NewRegistry(stubFactory, nil)
	a, _ := r.Open("nile", nil)
	b, _ := r.Open("chat", nil)

	require.NoError(t, r.Close("nile"))
	assert.True(t, a.(*stubApp).closed)
	assert.ErrorIs(t, r.Close("nile"), ErrNotFound)

	r.CloseAll()
	assert.True(t, b.(*stubApp).closed)
	assert.Empty(t, r.List())
	_, err := r.Get("chat")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunScript(t *testing.T) {
	r := NewRegistry(stubFactory, nil)
	script := `
# world setup
create nile A dusty riverbank.
open chat

open nile
`
	require.NoError(t, RunScript(r, strings.NewReader(script)))
	a, err := r.Get("nile")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "dusty", "riverbank."}, a.(*stubApp).args)
	assert.True(t, r.Exists("chat"))

	err = RunScript(r, strings.NewReader("create nile\n"))
	assert.ErrorIs(t, err, ErrExists)

	err = RunScript(r, strings.NewReader("destroy nile\n"))
	assert.ErrorContains(t, err, "line 1")
}
