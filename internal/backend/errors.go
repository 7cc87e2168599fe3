package backend

import (
	"errors"
	"fmt"
)

// Transport error classification tags
const (
	TagNetwork       = "network"
	TagTimeout       = "timeout"
	TagCancelled     = "cancelled"
	TagMalformed     = "malformed_response"
	TagConfiguration = "configuration"
)

// Service error types synthesised by the interpreter
const (
	TypeEmptyChoices = "empty_choices"
	TypeInvalidUsage = "invalid_usage"
)

// ErrBusy is returned when a request is already in flight
var ErrBusy = &BusyError{}

// ValidationError reports bad input that never reaches the network
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ServiceError reports that the remote service understood and rejected the request
type ServiceError struct {
	Err    ChatError
	Status int
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("service error [%s]", e.Err.Type)
	if code := e.Err.CodeString(); code != "" {
		msg += fmt.Sprintf(" (code %s)", code)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	return msg + ": " + e.Err.Message
}

// TransportError reports network, cancellation and malformed-response failures
type TransportError struct {
	Tag     string
	Status  int
	Excerpt string
	Cause   error
}

func (e *TransportError) Error() string {
	msg := "transport error [" + e.Tag + "]"
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Excerpt != "" {
		msg += fmt.Sprintf(" body=%q", e.Excerpt)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsConfiguration reports whether the failure was caused by bad setup
func (e *TransportError) IsConfiguration() bool {
	return e.Tag == TagConfiguration
}

// BusyError is returned by Send while another request is in flight
type BusyError struct{}

func (e *BusyError) Error() string {
	return "session busy: a request is already in flight"
}

// Is matches any BusyError
func (e *BusyError) Is(target error) bool {
	_, ok := target.(*BusyError)
	return ok
}

// ConfigurationError reports a fatal setup problem such as missing credentials
type ConfigurationError struct {
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Cause)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
