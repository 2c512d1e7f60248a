package models

import "fmt"

// ConfigError reports an invalid or unusable configuration detected at
// startup. It is the only error that reaches the process boundary.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// EncodeError reports an observation field that could not be turned into a
// sample. The field is dropped; the rest of the observation is still sent.
type EncodeError struct {
	Field  string
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Field, e.Reason)
}

// TransportError reports a batch that never reached the backend or whose
// answer was not fully received.
type TransportError struct {
	Relay string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Relay, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError reports a sample the backend explicitly refused.
// Resending it would be refused again, so it is never retried.
type RejectedError struct {
	Key    string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected %s: %s", e.Key, e.Reason)
}

// Drop reasons attached to log events and metrics.
const (
	DropMaxRetry        = "max-retry-exceeded"
	DropEncodeError     = "encode-error"
	DropBackendRejected = "backend-rejected"
	DropBufferOverflow  = "buffer-overflow"
	DropShutdown        = "shutdown-undelivered"
	DropSpoolFull       = "spool-full"
)
