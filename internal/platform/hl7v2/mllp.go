package hl7v2

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"
)

// MLLP framing bytes. A framed message is <VT> payload <FS><CR>.
const (
	MLLPStartBlock     = 0x0B
	MLLPEndBlock       = 0x1C
	MLLPCarriageReturn = 0x0D

	mllpMaxMessageSize = 1 << 20
)

// Frame wraps raw HL7 v2.x bytes in MLLP framing.
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// Unframe extracts one message from an MLLP byte stream. It returns the
// payload, the remaining bytes after the frame, and whether a complete frame
// was present.
func Unframe(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{MLLPEndBlock, MLLPCarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// Sender dispatches outbound HL7 v2.x messages over MLLP/TCP and reads the
// acknowledgment. One Sender is safe for concurrent use; each Send opens its
// own connection.
type Sender struct {
	DialTimeout time.Duration
}

// Send frames and writes the message to addr, then reads the framed ACK. The
// context deadline bounds the whole exchange; a context without a deadline
// falls back to the dial timeout for the read and write deadlines.
func (s *Sender) Send(ctx context.Context, addr string, message []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: s.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mllp: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.DialTimeout)
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write(Frame(message)); err != nil {
		return nil, fmt.Errorf("mllp: write to %s: %w", addr, err)
	}

	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if len(buf) > mllpMaxMessageSize {
				return nil, fmt.Errorf("mllp: ack from %s exceeds max size", addr)
			}
			if ack, _, found := Unframe(buf); found {
				return ack, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("mllp: read ack from %s: %w", addr, err)
		}
	}
}
