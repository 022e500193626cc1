package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrTSatisfiesErrorInterface(t *testing.T) {
	var err error = EBADF
	assert.True(t, errors.Is(err, EBADF))
	assert.Equal(t, "EBADF", err.Error())
}

func TestStringForUnknownCode(t *testing.T) {
	assert.Equal(t, "Err_t(?)", Err_t(-99).String())
}
