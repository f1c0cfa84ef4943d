package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitForSpec_Satisfied_All(t *testing.T) {
	w := WaitForSpec{Kind: WaitForAll}
	assert.False(t, w.Satisfied(2, 3, false))
	assert.True(t, w.Satisfied(3, 3, false))
	assert.True(t, w.Satisfied(4, 3, false))
}

func TestWaitForSpec_Satisfied_Any(t *testing.T) {
	w := WaitForSpec{Kind: WaitForAny}
	assert.False(t, w.Satisfied(0, 3, false))
	assert.True(t, w.Satisfied(1, 3, false))
	// Already activated means a later arrival should not re-satisfy.
	assert.False(t, w.Satisfied(2, 3, true))
}

func TestWaitForSpec_Satisfied_MOfN(t *testing.T) {
	w := WaitForSpec{Kind: WaitForMOfN, M: 2}
	assert.False(t, w.Satisfied(1, 5, false))
	assert.True(t, w.Satisfied(2, 5, false))
	assert.True(t, w.Satisfied(3, 5, false))
}

func TestNode_IsRoutingOnly(t *testing.T) {
	routing := &Node{ID: "fanin"}
	assert.True(t, routing.IsRoutingOnly())

	ref := "task:do_thing"
	action := &Node{ID: "do", ActionRef: &ref}
	assert.False(t, action.IsRoutingOnly())
}

func TestTransition_IsTerminal(t *testing.T) {
	terminal := &Transition{ID: "t1", TargetNodeID: nil}
	assert.True(t, terminal.IsTerminal())

	target := "next"
	nonTerminal := &Transition{ID: "t2", TargetNodeID: &target}
	assert.False(t, nonTerminal.IsTerminal())
}
