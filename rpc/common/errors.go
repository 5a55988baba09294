package common

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrorCode is the kind of a hard failure. Soft outcomes (not found, not
// stored, conflict) are never errors.
type ErrorCode uint8

const (
	// CodeServerError is a fault reported by the server (SERVER_ERROR, out of memory, too large)
	CodeServerError ErrorCode = iota + 1
	// CodeClientError means the server rejected the command as invalid
	CodeClientError
	// CodeConnectionError means the connection failed or is in an unknown state
	CodeConnectionError
	// CodeProtocolError is any other unexpected status
	CodeProtocolError
	// CodeInvalidArgument is raised before anything is sent
	CodeInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case CodeServerError:
		return "server error"
	case CodeClientError:
		return "client error"
	case CodeConnectionError:
		return "connection error"
	case CodeProtocolError:
		return "protocol error"
	case CodeInvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the single error type returned by the client
type Error struct {
	Code   ErrorCode
	Msg    string
	Server string // address of the server that produced the error, if any
	Cause  error
}

// Sentinels for errors.Is. An *Error matches a sentinel when the codes match.
var (
	ErrServer          = &Error{Code: CodeServerError}
	ErrClient          = &Error{Code: CodeClientError}
	ErrConnection      = &Error{Code: CodeConnectionError}
	ErrProtocol        = &Error{Code: CodeProtocolError}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
)

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code.String())
	if e.Server != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Server)
		sb.WriteString("]")
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(errors.Cause(e.Cause).Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by code. A target carrying a message or server only
// matches an identical error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Server == "" && t.Cause == nil {
		return e.Code == t.Code
	}
	return e.Code == t.Code && e.Msg == t.Msg && e.Server == t.Server
}

// WithServer returns a copy of the error annotated with the server address
func (e *Error) WithServer(addr string) *Error {
	c := *e
	c.Server = addr
	return &c
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

func NewServerError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeServerError, Msg: fmt.Sprintf(format, args...)}
}

func NewClientError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeClientError, Msg: fmt.Sprintf(format, args...)}
}

func NewProtocolError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeProtocolError, Msg: fmt.Sprintf(format, args...)}
}

func NewInvalidArgumentError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// NewConnectionError wraps an I/O failure. The cause keeps its stack trace.
func NewConnectionError(cause error, format string, args ...interface{}) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Code: CodeConnectionError, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// AsError converts any error into an *Error. Errors that are not already
// classified are treated as connection failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewConnectionError(err, "i/o failure")
}

// IsConnectionError reports whether the connection that produced err must be discarded
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// --------------------------------------------------------------------------
// Multi Error
// --------------------------------------------------------------------------

// MultiError collects the failures of a fanned out request by server address.
// It is returned together with the partial results of the servers that answered.
type MultiError struct {
	PerServer map[string]error
}

// Add records the failure of a server
func (m *MultiError) Add(server string, err error) {
	if m.PerServer == nil {
		m.PerServer = make(map[string]error)
	}
	m.PerServer[server] = err
}

// ErrorOrNil returns nil when no server failed
func (m *MultiError) ErrorOrNil() error {
	if m == nil || len(m.PerServer) == 0 {
		return nil
	}
	return m
}

func (m *MultiError) Error() string {
	servers := make([]string, 0, len(m.PerServer))
	for s := range m.PerServer {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	parts := make([]string, len(servers))
	for i, s := range servers {
		parts[i] = fmt.Sprintf("%s: %v", s, m.PerServer[s])
	}
	return fmt.Sprintf("%d server(s) failed: %s", len(servers), strings.Join(parts, "; "))
}

// Unwrap exposes the per server errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	errs := make([]error, 0, len(m.PerServer))
	for _, err := range m.PerServer {
		errs = append(errs, err)
	}
	return errs
}
