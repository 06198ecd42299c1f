package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindOf(t *testing.T) {
	err := newError(Timeout, "client-side timeout elapsed")
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Timeout, kind)
}

func TestErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("dial failed")
	err := wrapError(ConnectionLost, "unreachable", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "dial failed")
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := newError(BadArgument, "one reason")
	b := newError(BadArgument, "a different reason")
	c := newError(Timeout, "unrelated")
	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}
