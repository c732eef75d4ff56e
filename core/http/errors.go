package http

import "errors"

// ErrIncomplete means the buffer does not hold a full message yet
var ErrIncomplete = errors.New("http: incomplete request")

// ErrBadRequest is the parent of every protocol error
var ErrBadRequest = errors.New("http: bad request")

// Protocol errors
var (
	ErrInvalidRequestLine error = &protocolError{msg: "invalid request line"}
	ErrInvalidMethod      error = &protocolError{msg: "invalid method"}
	ErrInvalidPath        error = &protocolError{msg: "invalid path"}
	ErrInvalidHeaders     error = &protocolError{msg: "invalid headers"}
	ErrTooManyHeaders     error = &protocolError{msg: "too many headers", parent: ErrInvalidHeaders}
	ErrInvalidBody        error = &protocolError{msg: "invalid request body"}
)

// ErrInvalidHeader is returned by Response.AddHeader for a malformed field
var ErrInvalidHeader = errors.New("http: invalid response header")

type protocolError struct {
	msg    string
	parent error
}

func (e *protocolError) Error() string { return "http: " + e.msg }

func (e *protocolError) Unwrap() []error {
	if e.parent != nil {
		return []error{e.parent, ErrBadRequest}
	}
	return []error{ErrBadRequest}
}
