package rag

import (
	"errors"
	"fmt"
)

// Kind classifies query failures for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindRetrieval
	KindConfig
	KindUpstream
	KindComponentsNotReady
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRetrieval:
		return "retrieval_error"
	case KindConfig:
		return "config_error"
	case KindUpstream:
		return "upstream_error"
	case KindComponentsNotReady:
		return "components_not_ready"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// Error is returned by the orchestrator for every failed query.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
