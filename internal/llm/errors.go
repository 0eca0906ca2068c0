package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a structured generation step failed.
type ErrorKind string

const (
	KindBackend ErrorKind = "backend"
	KindParse   ErrorKind = "parse"
	KindSchema  ErrorKind = "schema"
	KindEmpty   ErrorKind = "empty"
)

// GenerationError is returned by stages that turn backend output into typed
// values. Stages convert it into their fallback value at their boundary.
type GenerationError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Stage, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func NewGenerationError(stage string, kind ErrorKind, err error) *GenerationError {
	return &GenerationError{Kind: kind, Stage: stage, Err: err}
}

// KindOf reports the GenerationError kind in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
