// Package hl7v2 implements the HL7 v2.x wire layer: pipe-delimited message
// parsing, acknowledgment generation, outbound message composition, and MLLP
// framing with a TCP client sender.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// ParseError indicates a malformed HL7 v2.x message. Callers use it to
// distinguish protocol failures (which yield an AR acknowledgment) from
// processing failures.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "hl7v2: " + e.Reason
}

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Message is a parsed HL7 v2.x message.
type Message struct {
	Type         string    // MSH-9.1 (e.g. "ADT")
	TriggerEvent string    // MSH-9.2 (e.g. "A01")
	ControlID    string    // MSH-10
	ProcessingID string    // MSH-11
	Version      string    // MSH-12 (e.g. "2.5.1")
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment is a single HL7 v2.x segment: a tag plus its pipe-delimited fields.
type Segment struct {
	Tag    string // e.g. "MSH", "PID", "OBX"
	Fields []Field
}

// Field is a single field value with its component (^) and repetition (~)
// decompositions.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses raw HL7 v2.x bytes into a structured Message. Segments may be
// separated by \r, \n, or \r\n. The MSH segment may appear anywhere in the
// message; a message without one is a ParseError.
func Parse(raw []byte) (*Message, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, parseErrorf("message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return nil, parseErrorf("no segments found")
	}

	msg := &Message{}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, err
		}
		msg.Segments = append(msg.Segments, seg)
	}

	if err := msg.readHeader(); err != nil {
		return nil, err
	}

	return msg, nil
}

func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, parseErrorf("segment too short: %q", line)
	}

	seg := Segment{}

	// MSH is special: MSH-1 is the field separator character itself and
	// MSH-2 holds the encoding characters, so the raw split is shifted by
	// one relative to every other segment.
	if strings.HasPrefix(line, "MSH") {
		seg.Tag = "MSH"
		if len(line) < 4 {
			return seg, nil
		}

		fieldSep := string(line[3])
		seg.Fields = append(seg.Fields, Field{
			Value:      fieldSep,
			Components: []string{fieldSep},
		})
		for _, part := range strings.Split(line[4:], fieldSep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.Split(line, "|")
	seg.Tag = parts[0]
	for _, f := range parts[1:] {
		seg.Fields = append(seg.Fields, parseField(f))
	}

	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// readHeader extracts the routing fields from the MSH segment. A missing MSH
// is a ParseError; a present but sparse MSH leaves the fields empty.
func (m *Message) readHeader() error {
	msh := m.Segment("MSH")
	if msh == nil {
		return parseErrorf("MSH segment not found")
	}

	m.SendingApp = msh.Field(3)
	m.SendingFac = msh.Field(4)
	m.ReceivingApp = msh.Field(5)
	m.ReceivingFac = msh.Field(6)

	if ts := msh.Field(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}

	typeParts := strings.Split(msh.Field(9), "^")
	m.Type = typeParts[0]
	if len(typeParts) > 1 {
		m.TriggerEvent = typeParts[1]
	}

	m.ControlID = msh.Field(10)
	m.ProcessingID = msh.Field(11)
	m.Version = msh.Field(12)

	return nil
}

// Segment returns the first segment with the given tag, or nil.
func (m *Message) Segment(tag string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Tag == tag {
			return &m.Segments[i]
		}
	}
	return nil
}

// AllSegments returns every segment with the given tag.
func (m *Message) AllSegments(tag string) []Segment {
	var out []Segment
	for _, seg := range m.Segments {
		if seg.Tag == tag {
			out = append(out, seg)
		}
	}
	return out
}

// FieldMap flattens the message into a tag-to-fields map suitable for
// persistence: every field after the tag, as raw strings. When a tag repeats
// the last occurrence wins.
func (m *Message) FieldMap() map[string][]string {
	out := make(map[string][]string, len(m.Segments))
	for _, seg := range m.Segments {
		fields := make([]string, len(seg.Fields))
		for i, f := range seg.Fields {
			fields[i] = f.Value
		}
		out[seg.Tag] = fields
	}
	return out
}

// Field returns the value of a field by its 1-based HL7 index. For MSH,
// Fields[0] already holds MSH-1 (the separator), so the same offset applies.
func (s *Segment) Field(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// Component returns a component by 1-based field and component indices.
func (s *Segment) Component(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	ci := compIdx - 1
	comps := s.Fields[idx].Components
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// PatientID returns PID-3.1, the first component of the patient identifier.
func (m *Message) PatientID() string {
	pid := m.Segment("PID")
	if pid == nil {
		return ""
	}
	return pid.Component(3, 1)
}

// PatientName returns the family and given name from PID-5 (family^given).
func (m *Message) PatientName() (family, given string) {
	pid := m.Segment("PID")
	if pid == nil {
		return "", ""
	}
	return pid.Component(5, 1), pid.Component(5, 2)
}

// ParseTimestamp parses an HL7 v2.x timestamp (YYYYMMDD[HHmm[ss]]).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, parseErrorf("unrecognized timestamp format: %q", s)
	}
}
