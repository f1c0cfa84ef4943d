// Package werr classifies Coordinator errors into the three kinds spec.md
// §7 distinguishes: Infrastructure (transient, the Executor retries),
// Business (surfaced to the workflow author's FAIL_WORKFLOW path), and
// Programming (a bug; apply returns it with code internal_error).
package werr

import "fmt"

// Kind is the error taxonomy discriminant.
type Kind string

const (
	Infrastructure Kind = "infrastructure"
	Business       Kind = "business"
	Programming    Kind = "programming"
)

// Error wraps an underlying cause with a Kind and, for Business errors, the
// node_id that raised it.
type Error struct {
	Kind    Kind
	NodeID  string
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Infra wraps cause as a retriable infrastructure error.
func Infra(code, message string, cause error) *Error {
	return &Error{Kind: Infrastructure, Code: code, Message: message, Cause: cause}
}

// Biz constructs a non-retriable business error attributed to nodeID.
func Biz(nodeID, code, message string) *Error {
	return &Error{Kind: Business, NodeID: nodeID, Code: code, Message: message}
}

// Bug builds a Programming error with code internal_error, for a panic the
// apply boundary's recover() caught or a decision apply refuses. Nothing
// turns it into a run status: internal/dispatcher returns it to the
// command's caller without retrying the command.
func Bug(message string, cause error) *Error {
	return &Error{Kind: Programming, Code: "internal_error", Message: message, Cause: cause}
}

// Retriable reports whether the Executor should retry the task that
// produced this error, per spec.md §7's error taxonomy.
func Retriable(err error) bool {
	we, ok := err.(*Error)
	if !ok {
		return false
	}
	return we.Kind == Infrastructure
}
