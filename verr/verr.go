// Package verr defines the error taxonomy shared across voicebridge. Every
// package that can fail in a way a caller needs to branch on returns a
// *verr.Error rather than an ad-hoc error string or a bespoke sentinel type.
// HTTP status mapping happens in exactly one place (server), per the
// "convert to status codes only at the edge" design note.
package verr

import (
	"errors"
	"fmt"
)

// Code is the error taxonomy discriminator.
type Code string

const (
	ConfigInvalid       Code = "ConfigInvalid"
	CredentialMissing   Code = "CredentialMissing"
	UnauthorizedWebhook Code = "UnauthorizedWebhook"
	RateLimited         Code = "RateLimited"
	PayloadTooLarge     Code = "PayloadTooLarge"
	RequestTimeout      Code = "RequestTimeout"
	BadPayload          Code = "BadPayload"
	NoControlUrl        Code = "NoControlUrl"
	ProviderErrorCode   Code = "ProviderError"
	InvalidTransition   Code = "InvalidTransition"
	TooManyCalls        Code = "TooManyCalls"
	TranscriptTimeout   Code = "TranscriptTimeout"
	SilenceTimeout      Code = "SilenceTimeout"
	RingTimeout         Code = "RingTimeout"
	MaxDuration         Code = "MaxDuration"
	TtsUnavailable      Code = "TtsUnavailable"
	RealtimeDisconnect  Code = "RealtimeDisconnected"
	SummaryFailed       Code = "SummaryFailed"
	NotFound            Code = "NotFound"
)

// Error is the single structured error type used across the module.
type Error struct {
	Code    Code
	Message string
	Status  int   // ProviderError HTTP status, 0 if not applicable
	Body    string // ProviderError response body, for diagnostics only
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Code, ignoring Message/Cause, so callers can write
// errors.Is(err, verr.New(verr.NoControlUrl, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New constructs an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Provider builds a ProviderError carrying the upstream status and body.
func Provider(status int, body string) *Error {
	return &Error{Code: ProviderErrorCode, Message: "provider request failed", Status: status, Body: body}
}

// CodeOf extracts the Code from err, returning "" if err is not a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
