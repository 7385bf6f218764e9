package manager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrTooBusyIsRecognizedByIsTooBusy(t *testing.T) {
	err := ErrTooBusy("m1")
	require.True(t, IsTooBusy(err))
	require.False(t, IsHandleNotFound(err))
}

func TestErrHandleNotFoundIsRecognizedByIsHandleNotFound(t *testing.T) {
	err := ErrHandleNotFound("m1")
	require.True(t, IsHandleNotFound(err))
	require.False(t, IsTooBusy(err))
}

func TestUnrelatedErrorsAreNeither(t *testing.T) {
	err := errors.New("boom")
	require.False(t, IsTooBusy(err))
	require.False(t, IsHandleNotFound(err))
}
