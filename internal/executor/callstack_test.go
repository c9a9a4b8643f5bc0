package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallStack_EnterLeave(t *testing.T) {
	s := NewCallStack("root")

	leaveA, err := s.Enter("a")
	require.NoError(t, err)
	leaveB, err := s.Enter("b")
	require.NoError(t, err)
	require.Equal(t, []string{"root", "a", "b"}, s.Names())

	_, err = s.Enter("a")
	require.EqualError(t, err, "Circular command reference detected: a -> a")
	require.Equal(t, 3, s.Len())

	leaveB()
	leaveA()
	require.Equal(t, []string{"root"}, s.Names())
	require.True(t, s.Contains("root"))
	require.False(t, s.Contains("a"))
}
