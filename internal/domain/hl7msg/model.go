// Package hl7msg implements the persisted HL7 message entity. The raw wire
// text is immutable once stored; status, errors, and the processing log
// evolve as the processor works the message.
package hl7msg

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no stored message matches the lookup.
var ErrNotFound = errors.New("hl7msg: not found")

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Processing states. pending and processing are transient; processed, error,
// and rejected are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusError      = "error"
	StatusRejected   = "rejected"
)

// Message maps to the hl7_message table.
type Message struct {
	MessageID         uuid.UUID           `db:"message_id" json:"message_id"`
	ControlID         string              `db:"control_id" json:"control_id"`
	MessageType       string              `db:"message_type" json:"message_type"`
	TriggerEvent      string              `db:"trigger_event" json:"trigger_event"`
	Direction         string              `db:"direction" json:"direction"`
	RawMessage        string              `db:"raw_message" json:"raw_message"`
	ParsedMessage     map[string][]string `db:"parsed_message" json:"parsed_message,omitempty"`
	Status            string              `db:"status" json:"status"`
	ProcessingErrors  []string            `db:"processing_errors" json:"processing_errors,omitempty"`
	ProcessingLog     []string            `db:"processing_log" json:"processing_log,omitempty"`
	SourceSystem      *uuid.UUID          `db:"source_system" json:"source_system,omitempty"`
	DestinationSystem *uuid.UUID          `db:"destination_system" json:"destination_system,omitempty"`
	RelatedPatient    *string             `db:"related_patient" json:"related_patient,omitempty"`
	ReceivedAt        time.Time           `db:"received_at" json:"received_at"`
	ProcessedAt       *time.Time          `db:"processed_at" json:"processed_at,omitempty"`
}

// AppendLog adds a timestamped entry to the processing log.
func (m *Message) AppendLog(entry string) {
	m.ProcessingLog = append(m.ProcessingLog,
		time.Now().UTC().Format(time.RFC3339)+" "+entry)
}

// AppendError records a processing error.
func (m *Message) AppendError(entry string) {
	m.ProcessingErrors = append(m.ProcessingErrors, entry)
}
