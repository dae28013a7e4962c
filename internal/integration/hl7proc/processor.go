// Package hl7proc implements the HL7 v2.x message processor: a small state
// machine that takes stored messages from pending through parsing and routing
// to a terminal state, always producing a well-formed acknowledgment.
package hl7proc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interop/interop/internal/domain/hl7msg"
	"github.com/interop/interop/internal/domain/system"
	"github.com/interop/interop/internal/domain/transaction"
	"github.com/interop/interop/internal/platform/hl7v2"
)

// TypeHandler processes one parsed message of a registered message family.
// A returned error yields an AE acknowledgment; success yields AA.
type TypeHandler func(ctx context.Context, parsed *hl7v2.Message, stored *hl7msg.Message) error

// Processor drives inbound messages through the processing state machine and
// dispatches composed outbound messages over MLLP.
type Processor struct {
	messages hl7msg.MessageRepository
	registry *system.Registry
	ledger   *transaction.Ledger
	sender   *hl7v2.Sender
	handlers map[string]TypeHandler
	logger   zerolog.Logger
	now      func() time.Time
}

func NewProcessor(messages hl7msg.MessageRepository, registry *system.Registry,
	ledger *transaction.Ledger, sender *hl7v2.Sender, logger zerolog.Logger) *Processor {
	p := &Processor{
		messages: messages,
		registry: registry,
		ledger:   ledger,
		sender:   sender,
		handlers: make(map[string]TypeHandler),
		logger:   logger.With().Str("component", "hl7_processor").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	p.registerDefaultHandlers()
	return p
}

// RegisterHandler installs or replaces the handler for a message family
// (ADT, ORM, ORU, SIU, ...).
func (p *Processor) RegisterHandler(messageType string, h TypeHandler) {
	p.handlers[messageType] = h
}

// Ingest stores a raw inbound message and runs it through the state machine.
// The returned acknowledgment text is always well formed, whatever the
// outcome: malformed input yields an AR ack, a failing handler an AE ack.
func (p *Processor) Ingest(ctx context.Context, raw []byte, sourceSystem *uuid.UUID) (*hl7msg.Message, string, error) {
	stored := &hl7msg.Message{
		Direction:    hl7msg.DirectionInbound,
		RawMessage:   string(raw),
		Status:       hl7msg.StatusPending,
		SourceSystem: sourceSystem,
	}
	stored.AppendLog("message received")
	if err := p.messages.Create(ctx, stored); err != nil {
		return nil, hl7v2.RejectAck().Render(), fmt.Errorf("storing inbound message: %w", err)
	}

	ack := p.process(ctx, stored)
	if err := p.messages.Update(ctx, stored); err != nil {
		p.logger.Error().Err(err).
			Str("message_id", stored.MessageID.String()).
			Msg("persisting processing outcome")
	}
	return stored, ack, nil
}

// Reprocess re-runs the state machine on a stored message's original raw
// text. Useful after fixing a handler or registering a missing one.
func (p *Processor) Reprocess(ctx context.Context, id uuid.UUID) (*hl7msg.Message, string, error) {
	stored, err := p.messages.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	stored.Status = hl7msg.StatusPending
	stored.ProcessingErrors = nil
	stored.ProcessedAt = nil
	stored.AppendLog("reprocessing requested")

	ack := p.process(ctx, stored)
	if err := p.messages.Update(ctx, stored); err != nil {
		return nil, "", fmt.Errorf("persisting reprocess outcome: %w", err)
	}
	return stored, ack, nil
}

// process walks one message through parse, route, and acknowledge. It
// mutates stored in place and returns the rendered ack.
func (p *Processor) process(ctx context.Context, stored *hl7msg.Message) string {
	stored.Status = hl7msg.StatusProcessing

	parsed, err := hl7v2.Parse([]byte(stored.RawMessage))
	if err != nil {
		stored.Status = hl7msg.StatusError
		stored.AppendError(err.Error())
		stored.AppendLog("parse failed, rejecting")
		return hl7v2.RejectAck().Render()
	}

	stored.ControlID = parsed.ControlID
	stored.MessageType = parsed.Type
	stored.TriggerEvent = parsed.TriggerEvent
	stored.ParsedMessage = parsed.FieldMap()
	if pid := parsed.PatientID(); pid != "" {
		stored.RelatedPatient = &pid
	}
	stored.AppendLog(fmt.Sprintf("parsed %s^%s control %s",
		parsed.Type, parsed.TriggerEvent, parsed.ControlID))

	handler, ok := p.handlers[parsed.Type]
	if !ok {
		stored.Status = hl7msg.StatusError
		stored.AppendError("no handler registered for message type " + parsed.Type)
		stored.AppendLog("routing failed, rejecting")
		return hl7v2.AckFor(parsed, hl7v2.AckReject).Render()
	}

	if err := handler(ctx, parsed, stored); err != nil {
		stored.Status = hl7msg.StatusError
		stored.AppendError(err.Error())
		stored.AppendLog("handler failed")
		p.logger.Warn().Err(err).
			Str("message_type", parsed.Type).
			Str("control_id", parsed.ControlID).
			Msg("message handler failed")
		return hl7v2.AckFor(parsed, hl7v2.AckError).Render()
	}

	now := p.now()
	stored.Status = hl7msg.StatusProcessed
	stored.ProcessedAt = &now
	stored.AppendLog("processed")
	return hl7v2.AckFor(parsed, hl7v2.AckAccept).Render()
}

// Send composes nothing itself: it takes already-composed wire bytes,
// records them as an outbound message, and delivers them over MLLP to the
// system's HL7 listener inside one integration transaction.
func (p *Processor) Send(ctx context.Context, systemName string, raw []byte) (*hl7msg.Message, error) {
	s, err := p.registry.Get(ctx, systemName)
	if err != nil {
		return nil, err
	}
	if !s.SupportsHL7 || s.HL7Address == nil || *s.HL7Address == "" {
		return nil, fmt.Errorf("hl7proc: system %s has no HL7 listener configured", s.Name)
	}

	parsed, err := hl7v2.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("hl7proc: composed message does not parse: %w", err)
	}

	stored := &hl7msg.Message{
		ControlID:         parsed.ControlID,
		MessageType:       parsed.Type,
		TriggerEvent:      parsed.TriggerEvent,
		Direction:         hl7msg.DirectionOutbound,
		RawMessage:        string(raw),
		ParsedMessage:     parsed.FieldMap(),
		Status:            hl7msg.StatusProcessing,
		DestinationSystem: &s.ID,
	}
	if pid := parsed.PatientID(); pid != "" {
		stored.RelatedPatient = &pid
	}
	stored.AppendLog("outbound message composed")
	if err := p.messages.Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("storing outbound message: %w", err)
	}

	txn, err := p.ledger.Begin(ctx, transaction.BeginParams{
		TransactionType: transaction.TypeHL7Send,
		ExternalSystem:  &s.ID,
		EndpointURL:     "mllp://" + *s.HL7Address,
		RelatedPatient:  stored.RelatedPatient,
	})
	if err != nil {
		return nil, err
	}
	txn.RelatedHL7Message = &stored.MessageID

	ackBytes, sendErr := p.sender.Send(ctx, *s.HL7Address, raw)
	if sendErr != nil {
		stored.Status = hl7msg.StatusError
		stored.AppendError(sendErr.Error())
		stored.AppendLog("delivery failed")
		p.finishSend(ctx, txn, sendErr)
	} else {
		now := p.now()
		stored.Status = hl7msg.StatusProcessed
		stored.ProcessedAt = &now
		stored.AppendLog("delivered, ack received")
		ack := string(ackBytes)
		if err := p.ledger.Complete(ctx, txn, http.StatusOK,
			map[string]interface{}{"ack": ack}, ""); err != nil {
			p.logger.Error().Err(err).Msg("finalizing send transaction")
		}
	}

	if err := p.messages.Update(ctx, stored); err != nil {
		p.logger.Error().Err(err).
			Str("message_id", stored.MessageID.String()).
			Msg("persisting send outcome")
	}
	if sendErr != nil {
		return stored, fmt.Errorf("hl7proc: delivering to %s: %w", s.Name, sendErr)
	}
	return stored, nil
}

func (p *Processor) finishSend(ctx context.Context, txn *transaction.Transaction, cause error) {
	var status string
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		status = transaction.StatusTimeout
	case errors.Is(cause, context.Canceled):
		status = transaction.StatusCancelled
	default:
		status = transaction.StatusFailed
	}
	if err := p.ledger.Abort(ctx, txn, status, cause.Error()); err != nil {
		p.logger.Error().Err(err).Msg("aborting send transaction")
	}
}

// Get returns one stored message.
func (p *Processor) Get(ctx context.Context, id uuid.UUID) (*hl7msg.Message, error) {
	return p.messages.GetByID(ctx, id)
}

// List pages stored messages.
func (p *Processor) List(ctx context.Context, f hl7msg.ListFilter, limit, offset int) ([]*hl7msg.Message, int, error) {
	return p.messages.List(ctx, f, limit, offset)
}

// CountByStatus summarizes the message backlog.
func (p *Processor) CountByStatus(ctx context.Context) (map[string]int, error) {
	return p.messages.CountByStatus(ctx)
}
