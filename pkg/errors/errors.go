package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeInvalidSeed         ErrorType = "invalid_seed"
	ErrorTypeNoActiveTab         ErrorType = "no_active_tab"
	ErrorTypeExtractionTimeout   ErrorType = "extraction_timeout"
	ErrorTypeExtractionFailure   ErrorType = "extraction_failure"
	ErrorTypeUnrecognizedMessage ErrorType = "unrecognized_message"
	ErrorTypeInvalidState        ErrorType = "invalid_state"
	ErrorTypeBrowser             ErrorType = "browser"
	ErrorTypeStorage             ErrorType = "storage"
	ErrorTypeNetwork             ErrorType = "network"
	ErrorTypeUnknown             ErrorType = "unknown"
)

// Messages surfaced to the operator for seed errors.
const (
	InvalidPageMessage = "Please navigate to an Instagram profile page."
	NoActiveTabMessage = "No active tab found"
)

// Error represents a crawler error with type information
type Error struct {
	Type    ErrorType
	Message string
	// Trace holds the sub-step failures collected by an extraction task.
	Trace []string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewInvalidSeed reports that the active page is not a profile page
func NewInvalidSeed(url string) *Error {
	return &Error{Type: ErrorTypeInvalidSeed, Message: InvalidPageMessage + " (" + url + ")"}
}

// NewNoActiveTab reports that the host could not provide an active tab
func NewNoActiveTab(cause error) *Error {
	return &Error{Type: ErrorTypeNoActiveTab, Message: NoActiveTabMessage, Err: cause}
}

// NewExtractionTimeout reports that a task produced no result in time
func NewExtractionTimeout(itemID string, after time.Duration) *Error {
	return &Error{
		Type:    ErrorTypeExtractionTimeout,
		Message: fmt.Sprintf("no result for %s within %s", itemID, after),
	}
}

// NewExtractionFailure reports that a task could not complete
func NewExtractionFailure(itemID, reason string, trace []string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeExtractionFailure,
		Message: fmt.Sprintf("%s: %s", itemID, reason),
		Trace:   trace,
		Err:     cause,
	}
}

// NewUnrecognizedMessage reports a message the router cannot dispatch
func NewUnrecognizedMessage(source, signal string) *Error {
	msg := "Unrecognized Source"
	if source != "" {
		msg = fmt.Sprintf("Unrecognized message %s/%s", source, signal)
	}
	return &Error{Type: ErrorTypeUnrecognizedMessage, Message: msg}
}

// Wrap tags an arbitrary error with a type
func Wrap(t ErrorType, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType checks whether err carries the given type anywhere in its chain
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// TraceOf returns the extraction trace carried by err, if any
func TraceOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Trace
	}
	return nil
}

// UserMessage returns the text shown to an operator for a command failure
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Type {
		case ErrorTypeInvalidSeed:
			return InvalidPageMessage
		case ErrorTypeNoActiveTab:
			return NoActiveTabMessage
		}
		return e.Message
	}
	return strings.TrimSpace(err.Error())
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeBrowser, ErrorTypeNetwork, ErrorTypeStorage:
		return true
	case ErrorTypeInvalidSeed, ErrorTypeNoActiveTab, ErrorTypeUnrecognizedMessage,
		ErrorTypeExtractionTimeout, ErrorTypeExtractionFailure, ErrorTypeInvalidState:
		return false
	default:
		return false
	}
}
