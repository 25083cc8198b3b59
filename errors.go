package ipa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors for the failures callers are expected to branch on.
var (
	// Existence errors
	ErrUserNotFound  = errors.New("ipa: user not found")
	ErrGroupNotFound = errors.New("ipa: group not found")
	ErrUserExists    = errors.New("ipa: user already exists")
	ErrAlreadyMember = errors.New("ipa: already a member")

	// Authentication and authorisation errors
	ErrInvalidCredentials = errors.New("ipa: invalid credentials")
	ErrSessionExpired     = errors.New("ipa: directory session expired")
	ErrInsufficientAccess = errors.New("ipa: insufficient access")
	ErrRateLimited        = errors.New("ipa: too many login attempts")

	// Handle lifecycle
	ErrClosed = errors.New("ipa: directory handle closed")
)

// DirectoryError is a failure reported by the directory for one operation.
// Message carries the server's own wording and is never rewritten.
type DirectoryError struct {
	// Op is the directory operation (e.g., "user_add", "group_add_member")
	Op string
	// Server is the directory endpoint the operation was sent to
	Server string
	// Code is the backend result code: a FreeIPA error code or an LDAP result code
	Code int
	// Name is the FreeIPA error name (e.g., "NotFound"), empty for LDAP
	Name string
	// Message is the server's error message
	Message string
	// Err is the classified sentinel or the underlying error
	Err error
	// Timestamp indicates when the error occurred
	Timestamp time.Time
}

// Error implements the error interface.
func (e *DirectoryError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("ipa %s failed on server %q: %s", e.Op, e.Server, msg)
}

// Unwrap exposes the classified sentinel to errors.Is.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// NewDirectoryError creates a DirectoryError for op against server.
func NewDirectoryError(op, server string, err error) *DirectoryError {
	return &DirectoryError{
		Op:        op,
		Server:    server,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithCode sets the backend result code.
func (e *DirectoryError) WithCode(code int) *DirectoryError {
	e.Code = code
	return e
}

// WithMessage sets the server's message.
func (e *DirectoryError) WithMessage(name, message string) *DirectoryError {
	e.Name = name
	e.Message = message
	return e
}

// FreeIPA JSON-RPC error codes the client classifies.
const (
	rpcCodeACIError       = 2100
	rpcCodeNotFound       = 4001
	rpcCodeDuplicateEntry = 4002
)

// notFoundFor picks the absence sentinel matching the object kind of op.
func notFoundFor(op string) error {
	if strings.HasPrefix(op, "group") {
		return ErrGroupNotFound
	}
	return ErrUserNotFound
}

// classifyRPCError turns a FreeIPA JSON-RPC error object into a DirectoryError.
func classifyRPCError(op, server string, code int, name, message string) error {
	var sentinel error
	switch code {
	case rpcCodeNotFound:
		sentinel = notFoundFor(op)
	case rpcCodeDuplicateEntry:
		sentinel = ErrUserExists
	case rpcCodeACIError:
		sentinel = ErrInsufficientAccess
	default:
		sentinel = errors.New(message)
	}
	return NewDirectoryError(op, server, sentinel).WithCode(code).WithMessage(name, message)
}

// WrapLDAPError classifies an error returned by go-ldap for op.
func WrapLDAPError(op, server string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		return NewDirectoryError(op, server, err)
	}

	var sentinel error
	switch ldapErr.ResultCode {
	case ldap.LDAPResultNoSuchObject:
		sentinel = notFoundFor(op)
	case ldap.LDAPResultEntryAlreadyExists:
		sentinel = ErrUserExists
	case ldap.LDAPResultAttributeOrValueExists:
		sentinel = ErrAlreadyMember
	case ldap.LDAPResultInvalidCredentials:
		sentinel = ErrInvalidCredentials
	case ldap.LDAPResultInsufficientAccessRights:
		sentinel = ErrInsufficientAccess
	default:
		sentinel = ldapErr
	}

	message := ""
	if ldapErr.Err != nil {
		message = ldapErr.Err.Error()
	}
	if message == "" {
		message = ldap.LDAPResultCodeMap[ldapErr.ResultCode]
	}

	return NewDirectoryError(op, server, sentinel).
		WithCode(int(ldapErr.ResultCode)).
		WithMessage("", message)
}

// IsNotFoundError reports whether err means the user or group does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrGroupNotFound)
}

// IsAuthenticationError reports whether err means the operator is not, or no longer, authenticated.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrSessionExpired)
}

// IsUpstreamError reports whether err was raised by the directory itself.
func IsUpstreamError(err error) bool {
	var dirErr *DirectoryError
	return errors.As(err, &dirErr)
}

// UpstreamMessage returns the directory's own wording for err, without the
// operation and server prefix of DirectoryError.Error. Errors that did not
// come from the directory are returned as err.Error().
func UpstreamMessage(err error) string {
	if err == nil {
		return ""
	}
	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		if dirErr.Message != "" {
			return dirErr.Message
		}
		if dirErr.Err != nil {
			return dirErr.Err.Error()
		}
	}
	return err.Error()
}

// GetErrorCode extracts the backend result code from err, or 0.
func GetErrorCode(err error) int {
	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		return dirErr.Code
	}
	return 0
}
