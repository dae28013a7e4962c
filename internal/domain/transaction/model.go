// Package transaction records every cross-boundary exchange as an
// append-mostly ledger row: begun before the network attempt, finalized
// exactly once with the outcome.
package transaction

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no transaction matches the lookup.
var ErrNotFound = errors.New("transaction: not found")

// ErrAlreadyCompleted is returned when Complete is invoked on a transaction
// already in a terminal state. Finalizing twice is a programming error in the
// caller, not a recoverable domain condition.
var ErrAlreadyCompleted = errors.New("transaction: already completed")

// Transaction types.
const (
	TypeFHIRRead     = "fhir-read"
	TypeFHIRCreate   = "fhir-create"
	TypeFHIRSearch   = "fhir-search"
	TypeHL7Send      = "hl7-send"
	TypeConnectivity = "connectivity"
)

// Transaction statuses. initiated and in-progress are live; the rest are
// terminal.
const (
	StatusInitiated  = "initiated"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusTimeout    = "timeout"
)

// Transaction maps to the integration_transaction table.
type Transaction struct {
	TransactionID   uuid.UUID              `db:"transaction_id" json:"transaction_id"`
	TransactionType string                 `db:"transaction_type" json:"transaction_type"`
	ExternalSystem  *uuid.UUID             `db:"external_system" json:"external_system,omitempty"`
	EndpointURL     string                 `db:"endpoint_url" json:"endpoint_url"`
	HTTPMethod      string                 `db:"http_method" json:"http_method"`
	RequestData     map[string]interface{} `db:"request_data" json:"request_data,omitempty"`
	ResponseData    map[string]interface{} `db:"response_data" json:"response_data,omitempty"`
	Status          string                 `db:"status" json:"status"`
	StatusCode      *int                   `db:"status_code" json:"status_code,omitempty"`
	ErrorMessage    string                 `db:"error_message" json:"error_message,omitempty"`
	StartedAt       time.Time              `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs      *int64                 `db:"duration_ms" json:"duration_ms,omitempty"`

	RelatedPatient      *string    `db:"related_patient" json:"related_patient,omitempty"`
	RelatedFHIRResource *uuid.UUID `db:"related_fhir_resource" json:"related_fhir_resource,omitempty"`
	RelatedHL7Message   *uuid.UUID `db:"related_hl7_message" json:"related_hl7_message,omitempty"`

	Initiator          string `db:"initiator" json:"initiator,omitempty"`
	InitiatorIP        string `db:"initiator_ip" json:"initiator_ip,omitempty"`
	InitiatorUserAgent string `db:"initiator_user_agent" json:"initiator_user_agent,omitempty"`
}

// Terminal reports whether the transaction has been finalized.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}
