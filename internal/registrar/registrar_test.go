package registrar

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistrar(t *testing.T) (*Registrar, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(WithLogger(logger)), &buf
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := newTestRegistrar(t)

	require.NoError(t, r.Register(KindEvent, "increment", "handler-1"))

	h, err := r.Get(KindEvent, "increment", true)
	require.NoError(t, err)
	assert.Equal(t, "handler-1", h)
}

func TestKindsArePartitioned(t *testing.T) {
	r, _ := newTestRegistrar(t)
	require.NoError(t, r.Register(KindFx, "db", "fx-db"))
	require.NoError(t, r.Register(KindCofx, "db", "cofx-db"))

	fx, _ := r.Get(KindFx, "db", true)
	cofx, _ := r.Get(KindCofx, "db", true)
	assert.Equal(t, "fx-db", fx)
	assert.Equal(t, "cofx-db", cofx)

	h, err := r.Get(KindEvent, "db", false)
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestGetMissing(t *testing.T) {
	r, _ := newTestRegistrar(t)

	h, err := r.Get(KindSub, "nope", false)
	assert.NoError(t, err)
	assert.Nil(t, h)

	_, err = r.Get(KindSub, "nope", true)
	require.Error(t, err)
	assert.True(t, IsNoHandler(err))

	var nh *NoHandlerError
	require.ErrorAs(t, err, &nh)
	assert.Equal(t, KindSub, nh.Kind)
	assert.Equal(t, "nope", nh.ID)
	assert.Contains(t, err.Error(), `no sub handler registered for "nope"`)
}

func TestUnknownKind(t *testing.T) {
	r, _ := newTestRegistrar(t)

	err := r.Register(Kind("view"), "x", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = r.Get(Kind("view"), "x", false)
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.ErrorIs(t, r.Clear(Kind("view")), ErrUnknownKind)
	assert.ErrorIs(t, r.ClearID(Kind("view"), "x"), ErrUnknownKind)
}

func TestRegisterNilRejected(t *testing.T) {
	r, _ := newTestRegistrar(t)
	assert.Error(t, r.Register(KindEvent, "x", nil))
}

func TestOverwriteWarns(t *testing.T) {
	r, logs := newTestRegistrar(t)

	require.NoError(t, r.Register(KindEvent, "x", 1))
	assert.Empty(t, logs.String())

	require.NoError(t, r.Register(KindEvent, "x", 2))
	assert.Contains(t, logs.String(), "overwriting handler")
	assert.Contains(t, logs.String(), "id=x")

	h, _ := r.Get(KindEvent, "x", true)
	assert.Equal(t, 2, h, "last write wins")
}

func TestClearAndClearID(t *testing.T) {
	r, logs := newTestRegistrar(t)
	require.NoError(t, r.Register(KindEvent, "a", 1))
	require.NoError(t, r.Register(KindEvent, "b", 2))
	require.NoError(t, r.Register(KindFx, "c", 3))

	require.NoError(t, r.ClearID(KindEvent, "a"))
	assert.False(t, r.Has(KindEvent, "a"))
	assert.True(t, r.Has(KindEvent, "b"))

	require.NoError(t, r.ClearID(KindEvent, "a"))
	assert.Contains(t, logs.String(), "not registered")

	require.NoError(t, r.Clear(KindEvent))
	assert.Empty(t, r.IDs(KindEvent))
	assert.Equal(t, []string{"c"}, r.IDs(KindFx))
}

func TestIDsSorted(t *testing.T) {
	r, _ := newTestRegistrar(t)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(KindSub, id, id))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.IDs(KindSub))
}
