package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Base error types
var (
	ErrNotFound            = errors.New("not found")
	ErrMalformedChallenge  = errors.New("malformed challenge")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeUpstream  ErrorType = "upstream"
	ErrorTypeProtocol  ErrorType = "protocol"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeChallenge ErrorType = "challenge"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeConfig    ErrorType = "config"
)

// ProxyError is a structured error for upstream and proxy operations
type ProxyError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "login_status", "fetch_asset")
	Target     string // Upstream path or resource involved
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
}

func (e *ProxyError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ProxyError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUpstreamUnavailable:
		return e.Type == ErrorTypeUpstream
	case ErrProtocolViolation:
		return e.Type == ErrorTypeProtocol
	case ErrAuthFailed:
		return e.Type == ErrorTypeAuth
	case ErrMalformedChallenge:
		return e.Type == ErrorTypeChallenge
	case ErrInvalidConfig:
		return e.Type == ErrorTypeConfig
	}

	return errors.Is(e.Err, target)
}

// NewProxyError creates a new ProxyError
func NewProxyError(errorType ErrorType, op, target string, err error) *ProxyError {
	return &ProxyError{
		Type:      errorType,
		Op:        op,
		Target:    target,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithStatusCode adds HTTP status code to the error
func (e *ProxyError) WithStatusCode(code int) *ProxyError {
	e.StatusCode = code
	return e
}

// WrapUpstreamError wraps a transport or status failure talking to the upstream device
func WrapUpstreamError(op, target string, err error) error {
	return NewProxyError(ErrorTypeUpstream, op, target, err)
}

// WrapStatusError reports a non-success upstream status as an upstream failure
func WrapStatusError(op, target string, statusCode int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	err := fmt.Errorf("status %d: %s", statusCode, body)
	return NewProxyError(ErrorTypeUpstream, op, target, err).WithStatusCode(statusCode)
}

// WrapProtocolError wraps a malformed upstream document
func WrapProtocolError(op, target string, err error) error {
	return NewProxyError(ErrorTypeProtocol, op, target, err)
}

// WrapChallengeError reports a login challenge that cannot be answered
func WrapChallengeError(challenge string, err error) error {
	return NewProxyError(ErrorTypeChallenge, "parse_challenge", challenge, err)
}

// WrapAuthError wraps a rejected login
func WrapAuthError(op, target string, err error) error {
	return NewProxyError(ErrorTypeAuth, op, target, err)
}

// IsUpstreamError checks if an error came from talking to the upstream device
func IsUpstreamError(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// StatusCode returns the upstream HTTP status carried by err, or 0
func StatusCode(err error) int {
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		return proxyErr.StatusCode
	}
	return 0
}
