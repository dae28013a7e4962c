package hl7proc

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/interop/interop/internal/domain/hl7msg"
	"github.com/interop/interop/internal/domain/system"
	"github.com/interop/interop/internal/domain/transaction"
	"github.com/interop/interop/internal/platform/hl7v2"
)

const sampleADT = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20240115103000||ADT^A01|MSG00001|P|2.5\r" +
	"EVN|A01|20240115103000\r" +
	"PID|1||12345^^^MRN||Doe^John||19800101|M\r" +
	"PV1|1|I|ICU^101^A\r"

const sampleORU = "MSH|^~\\&|LAB|LABFAC|EHR|HOSP|20240115110000||ORU^R01|LAB001|P|2.5\r" +
	"PID|1||67890^^^MRN||Smith^Jane\r" +
	"OBR|1||ORD123|88304^Biopsy\r" +
	"OBX|1|NM|718-7^Hemoglobin^LN||13.5|g/dL|12.0-16.0|N\r"

type testEnv struct {
	processor *Processor
	messages  *hl7msg.InMemoryMessageRepo
	registry  *system.Registry
	txns      *transaction.InMemoryTransactionRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	messages := hl7msg.NewInMemoryMessageRepo()
	registry := system.NewRegistry(system.NewInMemorySystemRepo(), time.Second, zerolog.Nop())
	txns := transaction.NewInMemoryTransactionRepo()
	ledger := transaction.NewLedger(txns, zerolog.Nop())
	sender := &hl7v2.Sender{DialTimeout: time.Second}
	return &testEnv{
		processor: NewProcessor(messages, registry, ledger, sender, zerolog.Nop()),
		messages:  messages,
		registry:  registry,
		txns:      txns,
	}
}

func TestIngest_ADT_Processed(t *testing.T) {
	env := newTestEnv(t)

	stored, ack, err := env.processor.Ingest(context.Background(), []byte(sampleADT), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Status != hl7msg.StatusProcessed {
		t.Errorf("status = %s, want processed; errors: %v", stored.Status, stored.ProcessingErrors)
	}
	if stored.ProcessedAt == nil {
		t.Error("processedAt not stamped")
	}
	if !strings.Contains(ack, "MSA|AA|MSG00001") {
		t.Errorf("ack = %q, want MSA|AA with original control id", ack)
	}
	if stored.RelatedPatient == nil || *stored.RelatedPatient != "12345" {
		t.Errorf("relatedPatient = %v, want 12345", stored.RelatedPatient)
	}
	if stored.MessageType != "ADT" || stored.TriggerEvent != "A01" {
		t.Errorf("type = %s^%s, want ADT^A01", stored.MessageType, stored.TriggerEvent)
	}
}

func TestIngest_MissingMSH_Rejected(t *testing.T) {
	env := newTestEnv(t)

	raw := "PID|1||12345^^^MRN||Doe^John\r"
	stored, ack, err := env.processor.Ingest(context.Background(), []byte(raw), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Status != hl7msg.StatusError {
		t.Errorf("status = %s, want error", stored.Status)
	}
	if len(stored.ProcessingErrors) == 0 {
		t.Error("no processing errors recorded")
	}
	if !strings.Contains(ack, "MSA|AR|") {
		t.Errorf("ack = %q, want MSA|AR", ack)
	}
	// The reject ack must itself be parseable HL7.
	if _, err := hl7v2.Parse([]byte(ack)); err != nil {
		t.Errorf("reject ack does not parse: %v", err)
	}
}

func TestIngest_UnknownType_Rejected(t *testing.T) {
	env := newTestEnv(t)

	raw := "MSH|^~\\&|APP|FAC|||20240115||ZZZ^Z01|CTRL9|P|2.5\r"
	stored, ack, err := env.processor.Ingest(context.Background(), []byte(raw), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Status != hl7msg.StatusError {
		t.Errorf("status = %s, want error", stored.Status)
	}
	if !strings.Contains(ack, "MSA|AR|CTRL9") {
		t.Errorf("ack = %q, want AR echoing CTRL9", ack)
	}
}

func TestIngest_HandlerFailure_ApplicationError(t *testing.T) {
	env := newTestEnv(t)

	// ADT without a PID segment fails in the handler, not the parser.
	raw := "MSH|^~\\&|APP|FAC|||20240115||ADT^A01|CTRL5|P|2.5\r" +
		"EVN|A01|20240115\r"
	stored, ack, err := env.processor.Ingest(context.Background(), []byte(raw), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Status != hl7msg.StatusError {
		t.Errorf("status = %s, want error", stored.Status)
	}
	if !strings.Contains(ack, "MSA|AE|CTRL5") {
		t.Errorf("ack = %q, want AE echoing CTRL5", ack)
	}
}

func TestIngest_ORU_LogsObservations(t *testing.T) {
	env := newTestEnv(t)

	stored, ack, err := env.processor.Ingest(context.Background(), []byte(sampleORU), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Status != hl7msg.StatusProcessed {
		t.Errorf("status = %s, want processed; errors: %v", stored.Status, stored.ProcessingErrors)
	}
	if !strings.Contains(ack, "MSA|AA|LAB001") {
		t.Errorf("ack = %q, want AA echoing LAB001", ack)
	}

	found := false
	for _, entry := range stored.ProcessingLog {
		if strings.Contains(entry, "Hemoglobin") {
			found = true
		}
	}
	if !found {
		t.Errorf("observation not logged, log: %v", stored.ProcessingLog)
	}
}

func TestReprocess_ErroredToProcessed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A message family with no handler errors out on first ingest.
	raw := "MSH|^~\\&|APP|FAC|||20240115||VXU^V04|CTRL7|P|2.5\r" +
		"PID|1||555^^^MRN||Patel^Riya\r"
	stored, _, err := env.processor.Ingest(ctx, []byte(raw), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Status != hl7msg.StatusError {
		t.Fatalf("initial status = %s, want error", stored.Status)
	}

	env.processor.RegisterHandler("VXU", func(_ context.Context, _ *hl7v2.Message, m *hl7msg.Message) error {
		m.AppendLog("immunization recorded")
		return nil
	})

	re, ack, err := env.processor.Reprocess(ctx, stored.MessageID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if re.Status != hl7msg.StatusProcessed {
		t.Errorf("status after reprocess = %s, want processed", re.Status)
	}
	if len(re.ProcessingErrors) != 0 {
		t.Errorf("processing errors not cleared: %v", re.ProcessingErrors)
	}
	if !strings.Contains(ack, "MSA|AA|CTRL7") {
		t.Errorf("ack = %q, want AA echoing CTRL7", ack)
	}
}

// startFakeMLLPListener accepts one connection, reads one framed message,
// and answers with a framed AA ack.
func startFakeMLLPListener(t *testing.T, received *[]byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		var data []byte
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data = append(data, buf[:n]...)
			}
			if msg, _, ok := hl7v2.Unframe(data); ok {
				*received = msg
				parsed, perr := hl7v2.Parse(msg)
				if perr != nil {
					conn.Write(hl7v2.Frame([]byte(hl7v2.RejectAck().Render())))
					return
				}
				ack := hl7v2.AckFor(parsed, hl7v2.AckAccept).Render()
				conn.Write(hl7v2.Frame([]byte(ack)))
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestSend_DeliversAndCompletesTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var received []byte
	addr := startFakeMLLPListener(t, &received)

	hl7Version := "2.5.1"
	sys := &system.System{
		Name:        "downstream-his",
		Kind:        "his",
		BaseURL:     "http://unused.example.org",
		SupportsHL7: true,
		HL7Version:  &hl7Version,
		HL7Address:  &addr,
	}
	if err := env.registry.Register(ctx, sys); err != nil {
		t.Fatalf("Register: %v", err)
	}

	patient := map[string]interface{}{
		"resourceType": "Patient",
		"id":           "p-42",
		"name": []interface{}{map[string]interface{}{
			"family": "Okafor",
			"given":  []interface{}{"Ada"},
		}},
		"gender":    "female",
		"birthDate": "1990-01-02",
	}
	raw, err := hl7v2.ComposeADT("A01", patient, nil)
	if err != nil {
		t.Fatalf("ComposeADT: %v", err)
	}

	stored, err := env.processor.Send(ctx, "downstream-his", raw)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if stored.Status != hl7msg.StatusProcessed {
		t.Errorf("status = %s, want processed; errors: %v", stored.Status, stored.ProcessingErrors)
	}
	if stored.Direction != hl7msg.DirectionOutbound {
		t.Errorf("direction = %s, want outbound", stored.Direction)
	}
	if !bytes.Equal(received, raw) {
		t.Error("listener did not receive the composed message verbatim")
	}

	txns, total, err := env.txns.List(ctx, transaction.ListFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("List transactions: %v", err)
	}
	if total != 1 {
		t.Fatalf("transaction count = %d, want 1", total)
	}
	if txns[0].Status != transaction.StatusCompleted {
		t.Errorf("transaction status = %s, want completed", txns[0].Status)
	}
	if txns[0].TransactionType != transaction.TypeHL7Send {
		t.Errorf("transaction type = %s, want %s", txns[0].TransactionType, transaction.TypeHL7Send)
	}
}

func TestSend_FailureMarksErrorAndFailsTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Nothing listens on this address.
	addr := "127.0.0.1:1"
	sys := &system.System{
		Name:        "dead-his",
		Kind:        "his",
		BaseURL:     "http://unused.example.org",
		SupportsHL7: true,
		HL7Address:  &addr,
	}
	if err := env.registry.Register(ctx, sys); err != nil {
		t.Fatalf("Register: %v", err)
	}

	patient := map[string]interface{}{
		"resourceType": "Patient",
		"id":           "p-9",
		"name": []interface{}{map[string]interface{}{
			"family": "Silva", "given": []interface{}{"Ana"},
		}},
	}
	raw, err := hl7v2.ComposeADT("A03", patient, nil)
	if err != nil {
		t.Fatalf("ComposeADT: %v", err)
	}

	stored, err := env.processor.Send(ctx, "dead-his", raw)
	if err == nil {
		t.Fatal("Send to dead listener succeeded")
	}
	if stored == nil || stored.Status != hl7msg.StatusError {
		t.Errorf("message status = %v, want error row", stored)
	}

	txns, total, _ := env.txns.List(ctx, transaction.ListFilter{}, 10, 0)
	if total != 1 {
		t.Fatalf("transaction count = %d, want 1", total)
	}
	if txns[0].Status != transaction.StatusFailed {
		t.Errorf("transaction status = %s, want failed", txns[0].Status)
	}
}

func TestSend_RequiresHL7Listener(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sys := &system.System{Name: "fhir-only", Kind: "ehr", BaseURL: "http://unused.example.org"}
	if err := env.registry.Register(ctx, sys); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := env.processor.Send(ctx, "fhir-only", []byte(sampleADT)); err == nil {
		t.Error("Send accepted a system without an HL7 listener")
	}
}
