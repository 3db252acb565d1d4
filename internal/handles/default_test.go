package handles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	t.Cleanup(func() { _ = Shutdown() })

	data := &testData{Name: "test", Value: 42}
	h, err := Register(data)
	require.NoError(t, err)
	assert.Equal(t, 1, Count())

	got, err := Lookup(h)
	require.NoError(t, err)
	gotData, ok := got.(*testData)
	require.True(t, ok, "Lookup returned wrong type: %T", got)
	assert.Equal(t, "test", gotData.Name)

	require.NoError(t, Unregister(h))
	_, err = Lookup(h)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, Unregister(h), ErrInvalidHandle)
}

func TestShutdownRecreates(t *testing.T) {
	first := Default()
	assert.Same(t, first, Default())

	_, err := Register("leaked")
	require.NoError(t, err)
	require.ErrorIs(t, Shutdown(), ErrLeaked)

	second := Default()
	assert.NotSame(t, first, second)
	assert.Equal(t, 0, Count())
	assert.NoError(t, Shutdown())
	assert.NoError(t, Shutdown(), "Shutdown without a registry is a no-op")
}
