package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition_AllowedPaths(t *testing.T) {
	cases := []struct {
		from TokenStatus
		to   TokenStatus
	}{
		{TokenPending, TokenDispatched},
		{TokenPending, TokenCancelled},
		{TokenDispatched, TokenExecuting},
		{TokenDispatched, TokenTimedOut},
		{TokenExecuting, TokenCompleted},
		{TokenExecuting, TokenFailed},
		{TokenWaitingForSiblings, TokenCompleted},
		{TokenWaitingForSubworkflow, TokenFailed},
	}
	for _, c := range cases {
		err := ValidateTransition("tok-1", c.from, c.to)
		assert.NoError(t, err, "%s -> %s should be allowed", c.from, c.to)
	}
}

func TestValidateTransition_RejectsTerminalReentry(t *testing.T) {
	err := ValidateTransition("tok-1", TokenCompleted, TokenDispatched)
	assert.Error(t, err)

	var invErr *InvalidTransitionError
	assert.ErrorAs(t, err, &invErr)
	assert.Equal(t, TokenCompleted, invErr.From)
}

func TestValidateTransition_RejectsSkippedStates(t *testing.T) {
	// Pending cannot jump straight to Executing; it must pass through Dispatched.
	err := ValidateTransition("tok-1", TokenPending, TokenExecuting)
	assert.Error(t, err)
}

func TestValidateTransition_RejectsUnknownFrom(t *testing.T) {
	err := ValidateTransition("tok-1", TokenStatus("bogus"), TokenDispatched)
	assert.Error(t, err)
}
