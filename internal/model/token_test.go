package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSiblingGroupKey(t *testing.T) {
	assert.Equal(t, "0.t-fanout", SiblingGroupKey("0", "t-fanout"))
}

func TestChildPathID(t *testing.T) {
	assert.Equal(t, "0.t-fanout.2", ChildPathID("0", "t-fanout", 2))
}

func TestMergedPathID(t *testing.T) {
	assert.Equal(t, "0.t-fanout.fanin", MergedPathID("0.t-fanout"))
}

func TestToken_IsRoot(t *testing.T) {
	root := Token{ID: "a", ParentTokenID: nil}
	assert.True(t, root.IsRoot())

	parent := "a"
	child := Token{ID: "b", ParentTokenID: &parent}
	assert.False(t, child.IsRoot())
}

func TestTokenStatus_IsTerminal(t *testing.T) {
	terminal := []TokenStatus{TokenCompleted, TokenFailed, TokenTimedOut, TokenCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []TokenStatus{TokenPending, TokenDispatched, TokenExecuting, TokenWaitingForSiblings, TokenWaitingForSubworkflow}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}
