package hl7v2

import (
	"strings"
	"testing"
)

func TestAckRender_EchoesControlID(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, code := range []string{AckAccept, AckError, AckReject} {
		ack := AckFor(msg, code).Render()

		if !strings.Contains(ack, "MSA|"+code+"|MSG00001|") {
			t.Errorf("code %s: MSA segment does not echo control ID: %q", code, ack)
		}
		if !strings.Contains(ack, "ACK^A01^ACK|MSG00001|P|2.5.1") {
			t.Errorf("code %s: MSH header malformed: %q", code, ack)
		}
	}
}

func TestAckRender_ParseableByOwnParser(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ack, err := Parse([]byte(AckFor(msg, AckAccept).Render()))
	if err != nil {
		t.Fatalf("ack did not round-trip through Parse: %v", err)
	}

	if ack.Type != "ACK" {
		t.Errorf("expected type ACK, got %q", ack.Type)
	}
	msa := ack.Segment("MSA")
	if msa == nil {
		t.Fatal("expected MSA segment")
	}
	if msa.Field(1) != "AA" {
		t.Errorf("expected MSA-1 = AA, got %q", msa.Field(1))
	}
	if msa.Field(2) != "MSG00001" {
		t.Errorf("expected MSA-2 = MSG00001, got %q", msa.Field(2))
	}
}

func TestRejectAck_WellFormedWithoutHeader(t *testing.T) {
	ack := RejectAck().Render()

	if !strings.HasPrefix(ack, "MSH|^~\\&|") {
		t.Errorf("expected well-formed MSH prefix, got %q", ack)
	}
	if !strings.Contains(ack, "MSA|AR||") {
		t.Errorf("expected AR with empty control ID, got %q", ack)
	}

	if _, err := Parse([]byte(ack)); err != nil {
		t.Errorf("reject ack did not parse: %v", err)
	}
}
