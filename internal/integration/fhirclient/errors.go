// Package fhirclient implements the outbound FHIR exchange client: read,
// create, and search against a registered external system, each wrapped in
// exactly one integration transaction.
package fhirclient

import (
	"errors"
	"fmt"
)

// ErrConsentDenied is returned when the consent check fails before an
// outbound create. It is a hard, non-retryable failure and no network call
// is attempted.
var ErrConsentDenied = errors.New("fhirclient: consent denied")

// ConfigError marks bad or missing auth configuration on a system record.
// Fatal for the call; never retried.
type ConfigError struct {
	System string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fhirclient: system %s misconfigured: %s", e.System, e.Reason)
}

// RemoteError carries a non-2xx response from the external system verbatim.
type RemoteError struct {
	StatusCode int
	Body       map[string]interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("fhirclient: remote returned status %d", e.StatusCode)
}

// TransportError wraps a network-level failure. Retryable by caller policy;
// the client itself never retries.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fhirclient: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
