package hl7v2

import "fmt"

// Acknowledgment codes carried in MSA-1.
const (
	AckAccept = "AA" // application accept
	AckError  = "AE" // application error
	AckReject = "AR" // application reject
)

// Ack describes the acknowledgment to return for an inbound message.
type Ack struct {
	Code      string // AA, AE, or AR
	Trigger   string // trigger event of the original message, may be empty
	ControlID string // control ID of the original message, echoed in MSA-2
	Version   string // MSH-12 of the original message
}

// Render produces the acknowledgment wire text. MSA-2 always echoes the
// original control ID regardless of outcome, so a missing or unparsable
// header still yields a well-formed ack with an empty control ID.
func (a Ack) Render() string {
	version := a.Version
	if version == "" {
		version = "2.5"
	}
	return fmt.Sprintf("MSH|^~\\&|||||||ACK^%s^ACK|%s|P|%s\rMSA|%s|%s|\r",
		a.Trigger, a.ControlID, version, a.Code, a.ControlID)
}

// AckFor builds an acknowledgment for a parsed message with the given code.
func AckFor(msg *Message, code string) Ack {
	return Ack{
		Code:      code,
		Trigger:   msg.TriggerEvent,
		ControlID: msg.ControlID,
		Version:   msg.Version,
	}
}

// RejectAck builds an AR acknowledgment for input that never parsed. With no
// header to echo, the control ID and trigger stay empty.
func RejectAck() Ack {
	return Ack{Code: AckReject}
}
