// Package validator defines the pluggable interface wonderctl's check and
// validate commands shell out to. Parsing the .wflow/.task/.action
// authoring DSL is out of scope here (spec.md §6's CLI surface is
// "genuinely out-of-core"); this package only fixes the contract the DSL
// tooling is expected to satisfy, plus a stub good enough to exercise the
// command wiring without that tooling present.
package validator

import (
	"fmt"
	"os"
)

// Result is the outcome of validating one definition file.
type Result struct {
	Errors []string
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

// Validator checks a single .wflow/.task/.action file at path.
type Validator interface {
	Validate(path string) (*Result, error)
}

// Stub only confirms the file exists and is non-empty; it stands in for
// the real DSL-aware validator until one is wired in.
type Stub struct{}

func (Stub) Validate(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return &Result{Errors: []string{fmt.Sprintf("%s is a directory, expected a definition file", path)}}, nil
	}
	if info.Size() == 0 {
		return &Result{Errors: []string{fmt.Sprintf("%s is empty", path)}}, nil
	}
	return &Result{}, nil
}
