package complexity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFragmentRegistry(t *testing.T) {
	r := newFragmentRegistry()
	calls := 0
	r.Register("F", func() (Result, error) {
		calls++
		return Result{Complexity: 3, MaxDepth: 2}, nil
	})

	for i := 0; i < 3; i++ {
		res, err := r.Resolve("F", nil)
		require.NoError(t, err)
		require.Equal(t, Result{Complexity: 3, MaxDepth: 2}, res)
	}
	require.Equal(t, 1, calls)

	_, err := r.Resolve("G", []string{"x"})
	require.ErrorIs(t, err, ErrUnknownFragment)
	require.Equal(t, `unknown fragment "G" at x`, err.Error())
}

func TestFragmentRegistryCycle(t *testing.T) {
	r := newFragmentRegistry()
	r.Register("A", func() (Result, error) { return r.Resolve("B", nil) })
	r.Register("B", func() (Result, error) { return r.Resolve("A", nil) })

	_, err := r.Resolve("A", nil)
	require.ErrorIs(t, err, ErrCyclicFragment)

	// A failed evaluation is not cached and does not leave markers behind.
	require.Empty(t, r.inProgress)
	require.Empty(t, r.results)
}
