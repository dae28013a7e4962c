package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLedger(t *testing.T) (*Ledger, *InMemoryTransactionRepo) {
	t.Helper()
	repo := NewInMemoryTransactionRepo()
	return NewLedger(repo, zerolog.Nop()), repo
}

func TestBegin_SetsInitiatedAndStartedAt(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()

	before := time.Now().UTC()
	txn, err := l.Begin(ctx, BeginParams{
		TransactionType: TypeFHIRRead,
		EndpointURL:     "https://fhir.example.org/Patient/123",
		HTTPMethod:      "GET",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if txn.Status != StatusInitiated {
		t.Errorf("status = %s, want %s", txn.Status, StatusInitiated)
	}
	if txn.StartedAt.Before(before) {
		t.Errorf("startedAt %v precedes begin call", txn.StartedAt)
	}

	stored, err := repo.GetByID(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusInitiated {
		t.Errorf("persisted status = %s, want %s", stored.Status, StatusInitiated)
	}
}

func TestBegin_RequiresType(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Begin(context.Background(), BeginParams{}); err == nil {
		t.Error("missing transaction type accepted")
	}
}

func TestComplete_StatusCodeRanges(t *testing.T) {
	tests := []struct {
		code       int
		wantStatus string
	}{
		{200, StatusCompleted},
		{201, StatusCompleted},
		{299, StatusCompleted},
		{300, StatusFailed},
		{404, StatusFailed},
		{500, StatusFailed},
		{199, StatusFailed},
	}
	for _, tt := range tests {
		l, _ := newTestLedger(t)
		ctx := context.Background()

		txn, err := l.Begin(ctx, BeginParams{TransactionType: TypeFHIRRead})
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := l.Complete(ctx, txn, tt.code, nil, ""); err != nil {
			t.Fatalf("Complete(%d): %v", tt.code, err)
		}
		if txn.Status != tt.wantStatus {
			t.Errorf("Complete(%d) status = %s, want %s", tt.code, txn.Status, tt.wantStatus)
		}
		if txn.Status == StatusFailed && txn.ErrorMessage == "" {
			t.Errorf("Complete(%d) failed with empty error message", tt.code)
		}
		if txn.DurationMs == nil || *txn.DurationMs < 0 {
			t.Errorf("Complete(%d) durationMs = %v, want non-negative", tt.code, txn.DurationMs)
		}
		if txn.CompletedAt == nil {
			t.Errorf("Complete(%d) completedAt not set", tt.code)
		}
	}
}

func TestComplete_OnlyOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	txn, err := l.Begin(ctx, BeginParams{TransactionType: TypeFHIRCreate})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Complete(ctx, txn, 201, nil, ""); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if err := l.Complete(ctx, txn, 500, nil, "boom"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("second Complete err = %v, want ErrAlreadyCompleted", err)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("status after double complete = %s, want %s", txn.Status, StatusCompleted)
	}
}

func TestComplete_PreservesSuppliedErrorMessage(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	txn, _ := l.Begin(ctx, BeginParams{TransactionType: TypeFHIRRead})
	if err := l.Complete(ctx, txn, 404, nil, "Patient not found"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if txn.ErrorMessage != "Patient not found" {
		t.Errorf("errorMessage = %q, want supplied message", txn.ErrorMessage)
	}
}

func TestAbort_TimeoutAndCancelled(t *testing.T) {
	for _, status := range []string{StatusTimeout, StatusCancelled} {
		l, repo := newTestLedger(t)
		ctx := context.Background()

		txn, _ := l.Begin(ctx, BeginParams{TransactionType: TypeHL7Send})
		if err := l.Abort(ctx, txn, status, "deadline exceeded"); err != nil {
			t.Fatalf("Abort(%s): %v", status, err)
		}
		stored, err := repo.GetByID(ctx, txn.TransactionID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != status {
			t.Errorf("status = %s, want %s", stored.Status, status)
		}
		if stored.CompletedAt == nil || stored.DurationMs == nil {
			t.Error("abort did not stamp completion fields")
		}
	}
}

func TestAbort_RejectsNonTerminalStatus(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	txn, _ := l.Begin(ctx, BeginParams{TransactionType: TypeHL7Send})
	if err := l.Abort(ctx, txn, StatusInProgress, ""); err == nil {
		t.Error("Abort accepted a live status")
	}
}

func TestAbort_OnlyOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	txn, _ := l.Begin(ctx, BeginParams{TransactionType: TypeFHIRSearch})
	if err := l.Abort(ctx, txn, StatusCancelled, "caller gave up"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := l.Complete(ctx, txn, 200, nil, ""); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("Complete after Abort err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestStats(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	ok, _ := l.Begin(ctx, BeginParams{TransactionType: TypeFHIRRead})
	if err := l.Complete(ctx, ok, 200, nil, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	bad, _ := l.Begin(ctx, BeginParams{TransactionType: TypeFHIRRead})
	if err := l.Complete(ctx, bad, 502, nil, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := l.Begin(ctx, BeginParams{TransactionType: TypeHL7Send}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ByStatus[StatusCompleted] != 1 {
		t.Errorf("completed count = %d, want 1", stats.ByStatus[StatusCompleted])
	}
	if stats.ByStatus[StatusFailed] != 1 {
		t.Errorf("failed count = %d, want 1", stats.ByStatus[StatusFailed])
	}
	if stats.ByStatus[StatusInitiated] != 1 {
		t.Errorf("initiated count = %d, want 1", stats.ByStatus[StatusInitiated])
	}
	if stats.FailedLast7d != 1 {
		t.Errorf("failed last 7d = %d, want 1", stats.FailedLast7d)
	}
	if stats.AvgDurationMs < 0 {
		t.Errorf("avg duration = %f, want non-negative", stats.AvgDurationMs)
	}
}
