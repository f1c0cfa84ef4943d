package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode_Nil_IsZero(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
}

func TestExitCode_ValidationError_IsOne(t *testing.T) {
	err := validationError(errors.New("bad input"))
	assert.Equal(t, ExitValidation, ExitCode(err))
}

func TestExitCode_NetworkError_IsTwo(t *testing.T) {
	err := networkError(errors.New("connection refused"))
	assert.Equal(t, ExitNetwork, ExitCode(err))
}

func TestExitCode_WrappedClassifiedError_StillClassified(t *testing.T) {
	err := fmt.Errorf("context: %w", networkError(errors.New("timeout")))
	assert.Equal(t, ExitNetwork, ExitCode(err))
}

func TestExitCode_UnclassifiedError_DefaultsToValidation(t *testing.T) {
	assert.Equal(t, ExitValidation, ExitCode(errors.New("unknown")))
}
