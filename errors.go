package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// =============================================================================
// Fatal Errors
// =============================================================================

// FatalError represents an error that should stop the whole run immediately.
// These are signing/device secret misconfigurations where retrying or moving
// on to the next account cannot help.
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

// IsFatalError checks if the error is a fatal error that should stop the run.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

// =============================================================================
// API Errors
// =============================================================================

// Response codes returned in the zonai envelope. Zero is success; everything
// else is an application-level refusal. The "already attended" and credential
// rejection codes are pinned here so classification never depends on the
// server's message text.
const (
	codeOK             = 0
	codeAttendanceDone = 10001
	codeCredExpired    = 10002
	codeCredInvalid    = 10003
)

// APIError is a non-zero business code decoded from a response envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// NewAPIError builds an APIError from an envelope code and message.
func NewAPIError(code int, message string) error {
	return &APIError{Code: code, Message: message}
}

// IsAuthRejection reports whether err is the server refusing the current
// credential (expired or invalidated). Callers should re-run the credential
// exchange once before giving up on the token.
func IsAuthRejection(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == codeCredExpired || ae.Code == codeCredInvalid
}

// IsAlreadyAttended reports whether err means today's attendance was claimed
// earlier. Treated as success for reporting.
func IsAlreadyAttended(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == codeAttendanceDone
}

// =============================================================================
// Malformed Responses
// =============================================================================

// MalformedResponseError is a response body that could not be decoded or
// failed envelope validation. Retried like a transport failure: a garbage
// body usually means an intermediary or a half-closed connection answered
// instead of the API.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// NewMalformedResponseError wraps a decode or schema failure at the
// response boundary.
func NewMalformedResponseError(format string, args ...any) error {
	return &MalformedResponseError{Err: fmt.Errorf(format, args...)}
}

// IsMalformedResponse reports whether err is a decode/schema failure.
func IsMalformedResponse(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate
// transport-level errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is transport-level: the call never
// produced a usable response, as opposed to the server answering with a
// refusal.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsFatalError(err) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return false
	}

	if IsMalformedResponse(err) {
		return true
	}
	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
