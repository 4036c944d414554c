package sems

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the portal rejected the credential or the token.
	ErrAuthentication = errors.New("sems: authentication rejected")
	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("sems: transient failure")
	// ErrSchema means a payload, or a single field of it, had an unexpected shape.
	ErrSchema = errors.New("sems: unexpected payload")
	// ErrNoStations means the account has no registered power stations.
	ErrNoStations = errors.New("sems: no stations registered")
)

type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
