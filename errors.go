package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrBrowserClosed marks the graceful end of a challenge flow: whoever closed
	// the browser already has what it needed.
	ErrBrowserClosed = errors.New("browser has been closed")

	// ErrChallengeExpired means the challenge surface went stale; re-trigger it.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrNavigationTimeout means the challenge page never became interactive.
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrNoCookie is returned when neither the request nor the config carries credentials.
	ErrNoCookie = errors.New("please provide a cookie either in the .env file or in the Cookie header of your request")
)

// =============================================================================
// Session / remote errors
// =============================================================================

// AuthError reports missing or invalid session prerequisites. Never retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// RemoteError is a non-2xx answer from the remote service. Detail is for
// logs; Message is only the JSON "detail" string and safe to pass on.
type RemoteError struct {
	Status  int
	Detail  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Detail)
}

// NetworkError is a transport failure where no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// SolverError is raised once the coordinate solver has exhausted its attempts.
type SolverError struct {
	Attempts int
	Err      error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SolverError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Fatal Errors
// =============================================================================

// FatalError represents an error that should stop retrying immediately.
// These are typically billing/authentication issues with the solver account.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatalError checks if the error is a fatal error that should stop retrying.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate retryable errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if a transport error is temporary and worth one more try.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsFatalError(err) {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsAny(err.Error(), retryableErrorPatterns)
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// =============================================================================
// Browser Errors
// =============================================================================

// browserClosedPatterns are what the automation driver says once the browser is gone.
var browserClosedPatterns = []string{
	"been closed",
	"target closed",
	"browser has disconnected",
}

// challengeExpiredPatterns show up when the challenge frame vanished under us.
var challengeExpiredPatterns = []string{
	"viewport",
	"timeout",
}

// classifyBrowserError folds driver errors into ErrBrowserClosed or
// ErrChallengeExpired where they match, leaving everything else untouched.
func classifyBrowserError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBrowserClosed) || errors.Is(err, ErrChallengeExpired) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, browserClosedPatterns):
		return fmt.Errorf("%w: %v", ErrBrowserClosed, err)
	case containsAny(msg, challengeExpiredPatterns):
		return fmt.Errorf("%w: %v", ErrChallengeExpired, err)
	}
	return err
}

func containsAny(s string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
