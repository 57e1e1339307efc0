package swish

import (
	"errors"
	"fmt"
)

// Errors reported by an Engine. They are part of the native contract, not
// returned to callers as-is: the Session turns them into results or into
// the typed errors below.
var (
	// ErrAuthenticationDenied means the server rejected the credentials
	// offered in this attempt.
	ErrAuthenticationDenied = errors.New("authentication denied")

	// ErrMethodUnavailable means the authentication method cannot be
	// attempted at all (not offered by the server, or no longer attemptable).
	ErrMethodUnavailable = errors.New("authentication method unavailable")
)

// Misuse of the API. These are always wrapped in a *LogicError.
var (
	ErrClosed            = errors.New("use of closed resource")
	ErrLiveChildren      = errors.New("resource still has open dependents")
	ErrIteratorExhausted = errors.New("iterator advanced past the end")
	ErrInvalidIdentity   = errors.New("identity does not belong to a live agent collection")
	ErrNotAuthenticated  = errors.New("session is not authenticated")
)

// TransportError is a connection-level failure: banner exchange, key
// exchange, decryption, a dropped socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthenticationError is a failure to carry out authentication. A server
// that simply rejects the offered credentials is not an error; that is
// reported as a false result instead.
type AuthenticationError struct {
	User   string
	Method string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication for %q failed: %v", e.Method, e.User, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SFTPError is a failed SFTP operation. Code holds the protocol status when
// the server supplied one; otherwise it is StatusNone and Err is usually a
// *TransportError.
type SFTPError struct {
	Op   string
	Path string
	Code StatusCode
	Err  error
}

func (e *SFTPError) Error() string {
	msg := fmt.Sprintf("sftp %s", e.Op)
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}

	if e.Code != StatusNone {
		msg += fmt.Sprintf(": %s", e.Code)
	}

	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *SFTPError) Unwrap() error {
	return e.Err
}

// LogicError reports a programming defect in the caller, such as advancing
// an exhausted iterator or closing a parent before its children.
type LogicError struct {
	Op  string
	Err error
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("logic error in %s: %v", e.Op, e.Err)
}

func (e *LogicError) Unwrap() error {
	return e.Err
}

// IsLogicError reports whether err is, or wraps, a *LogicError.
func IsLogicError(err error) bool {
	var le *LogicError

	return errors.As(err, &le)
}

// StatusError is how an engine reports an SFTP status code.
type StatusError struct {
	Code    StatusCode
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}

	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// ResponseCountError is captured when a Responder returns fewer answers
// than there were prompts without reporting an error.
type ResponseCountError struct {
	Prompts int
	Answers int
}

func (e *ResponseCountError) Error() string {
	return fmt.Sprintf("responder returned %d answers for %d prompts", e.Answers, e.Prompts)
}

// authError files a failed authentication call. Rejections and methods the
// server will not take are authentication errors; anything else is a
// transport failure.
func authError(user, method string, err error) error {
	var te *TransportError

	switch {
	case errors.Is(err, ErrAuthenticationDenied), errors.Is(err, ErrMethodUnavailable):
		return &AuthenticationError{User: user, Method: method, Err: err}
	case errors.As(err, &te):
		return err
	default:
		return &TransportError{Op: method + " authentication", Err: err}
	}
}

// sftpError wraps a native SFTP failure, preferring the protocol status
// over the generic transport error.
func sftpError(op, path string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		return &SFTPError{Op: op, Path: path, Code: se.Code, Err: err}
	}

	return &SFTPError{Op: op, Path: path, Code: StatusNone, Err: &TransportError{Op: op, Err: err}}
}

func logicError(op string, err error) error {
	return &LogicError{Op: op, Err: err}
}
