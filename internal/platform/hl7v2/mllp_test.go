package hl7v2

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestFrameUnframe_RoundTrip(t *testing.T) {
	payload := []byte(sampleADT)
	framed := Frame(payload)

	if framed[0] != MLLPStartBlock {
		t.Errorf("expected start block, got 0x%02X", framed[0])
	}
	if framed[len(framed)-2] != MLLPEndBlock || framed[len(framed)-1] != MLLPCarriageReturn {
		t.Error("expected end block + CR trailer")
	}

	msg, rest, found := Unframe(framed)
	if !found {
		t.Fatal("expected complete frame")
	}
	if !bytes.Equal(msg, payload) {
		t.Error("payload did not round-trip")
	}
	if len(rest) != 0 {
		t.Errorf("expected no remaining bytes, got %d", len(rest))
	}
}

func TestUnframe_PartialFrame(t *testing.T) {
	framed := Frame([]byte(sampleADT))

	_, rest, found := Unframe(framed[:len(framed)-2])
	if found {
		t.Error("expected incomplete frame to not be found")
	}
	if len(rest) != len(framed)-2 {
		t.Errorf("expected all bytes returned as rest, got %d", len(rest))
	}
}

func TestUnframe_MultipleFrames(t *testing.T) {
	first := Frame([]byte("MSH|^~\\&|A|B|C|D|20240101||ADT^A01|C1|P|2.5"))
	second := Frame([]byte("MSH|^~\\&|A|B|C|D|20240101||ADT^A03|C2|P|2.5"))
	stream := append(append([]byte{}, first...), second...)

	msg1, rest, found := Unframe(stream)
	if !found {
		t.Fatal("expected first frame")
	}
	if !bytes.Contains(msg1, []byte("C1")) {
		t.Error("expected first message payload")
	}

	msg2, rest, found := Unframe(rest)
	if !found {
		t.Fatal("expected second frame")
	}
	if !bytes.Contains(msg2, []byte("C2")) {
		t.Error("expected second message payload")
	}
	if len(rest) != 0 {
		t.Errorf("expected empty rest, got %d bytes", len(rest))
	}
}

func TestSender_SendReceivesAck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ackText := []byte("MSH|^~\\&|||||||ACK^A01^ACK|MSG00001|P|2.5.1\rMSA|AA|MSG00001|")

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 0, 4096)
		readBuf := make([]byte, 4096)
		for {
			n, err := conn.Read(readBuf)
			if n > 0 {
				buf = append(buf, readBuf[:n]...)
				if _, _, found := Unframe(buf); found {
					conn.Write(Frame(ackText))
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	sender := &Sender{DialTimeout: 2 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := sender.Send(ctx, ln.Addr().String(), []byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(ack, ackText) {
		t.Errorf("expected echoed ack, got %q", ack)
	}
}

func TestSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	sender := &Sender{DialTimeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := sender.Send(ctx, addr, []byte(sampleADT)); err == nil {
		t.Fatal("expected dial error against closed port")
	}
}
