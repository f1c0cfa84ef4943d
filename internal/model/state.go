package model

// WorkflowState is the immutable snapshot the state loader builds at command
// entry (spec.md §4.2). Planning only ever reads through this value; it
// never calls back into the store. Treat every field as read-only once
// constructed.
type WorkflowState struct {
	RunID        string
	ParentRunID  *string
	ParentTokenID *string

	Definition *WorkflowDefinition

	// Tokens is keyed by token ID.
	Tokens map[string]Token

	// FanIns is keyed by FanIn.Key().
	FanIns map[string]FanIn

	Context Context

	// Subworkflows is keyed by ParentTokenID.
	Subworkflows map[string]Subworkflow

	Status WorkflowStatus

	// IterationCounts tracks loop-back visits keyed by
	// node_id + "\x00" + ancestor path_id, per spec.md §9 ("Cyclic graphs").
	IterationCounts map[string]int

	TraceEnabled bool
}

// TokensAtNode returns all tokens currently pinned to nodeID, in no
// particular order (callers that need branch order must sort by
// BranchIndex themselves).
func (s *WorkflowState) TokensAtNode(nodeID string) []Token {
	var out []Token
	for _, t := range s.Tokens {
		if t.NodeID == nodeID {
			out = append(out, t)
		}
	}
	return out
}

// TokensInSiblingGroup returns every token spawned into the given sibling
// group, regardless of current node or status.
func (s *WorkflowState) TokensInSiblingGroup(siblingGroup string) []Token {
	var out []Token
	for _, t := range s.Tokens {
		if t.SiblingGroup == siblingGroup {
			out = append(out, t)
		}
	}
	return out
}

// ActiveTokenCount returns the number of tokens not yet in a terminal state.
func (s *WorkflowState) ActiveTokenCount() int {
	n := 0
	for _, t := range s.Tokens {
		if !t.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// RootToken returns the run's single root token (invariant 2 of spec.md §3).
func (s *WorkflowState) RootToken() (Token, bool) {
	for _, t := range s.Tokens {
		if t.IsRoot() {
			return t, true
		}
	}
	return Token{}, false
}
