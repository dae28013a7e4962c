package system

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/interop/interop/internal/domain/transaction"
)

func newTestRegistry(t *testing.T) (*Registry, *InMemorySystemRepo) {
	t.Helper()
	repo := NewInMemorySystemRepo()
	return NewRegistry(repo, 2*time.Second, zerolog.Nop()), repo
}

func registerSystem(t *testing.T, reg *Registry, name, baseURL string) *System {
	t.Helper()
	s := &System{Name: name, Kind: "ehr", BaseURL: baseURL}
	if err := reg.Register(context.Background(), s); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return s
}

func TestRegistry_GetMiss(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Get(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	registerSystem(t, reg, "regional-hie", "https://hie.example.org/fhir")

	s, err := reg.Get(context.Background(), "regional-hie")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ConnectionStatus != StatusUnknown {
		t.Errorf("expected status unknown for new system, got %s", s.ConnectionStatus)
	}
	if s.FHIRVersion != "R4" {
		t.Errorf("expected default FHIR version R4, got %s", s.FHIRVersion)
	}
	if s.AuthKind != AuthNone {
		t.Errorf("expected default auth kind none, got %s", s.AuthKind)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)

	cases := []struct {
		name string
		sys  System
	}{
		{"missing name", System{Kind: "ehr", BaseURL: "https://x"}},
		{"missing base url", System{Name: "a", Kind: "ehr"}},
		{"bad kind", System{Name: "a", Kind: "toaster", BaseURL: "https://x"}},
		{"bad auth kind", System{Name: "a", Kind: "ehr", BaseURL: "https://x", AuthKind: "magic"}},
	}
	for _, tc := range cases {
		sys := tc.sys
		if err := reg.Register(context.Background(), &sys); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRegistry_TestConnection_Success(t *testing.T) {
	var gotPath, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg, repo := newTestRegistry(t)
	s := registerSystem(t, reg, "lab", srv.URL)

	ok, err := reg.TestConnection(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected probe success")
	}
	if gotPath != "/metadata" {
		t.Errorf("expected /metadata probe, got %s", gotPath)
	}
	if gotAccept != "application/fhir+json" {
		t.Errorf("expected FHIR accept header, got %s", gotAccept)
	}

	stored, err := repo.GetByName(context.Background(), "lab")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ConnectionStatus != StatusConnected {
		t.Errorf("expected connected, got %s", stored.ConnectionStatus)
	}
	if stored.LastSuccessfulConnection == nil {
		t.Error("expected last_successful_connection to be stamped")
	}
}

func TestRegistry_TestConnection_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg, repo := newTestRegistry(t)
	s := registerSystem(t, reg, "lab", srv.URL)

	ok, err := reg.TestConnection(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected probe failure on 500")
	}

	stored, _ := repo.GetByName(context.Background(), "lab")
	if stored.ConnectionStatus != StatusError {
		t.Errorf("expected error status, got %s", stored.ConnectionStatus)
	}
	if stored.LastSuccessfulConnection != nil {
		t.Error("expected no success timestamp on failed probe")
	}
}

func TestRegistry_TestConnection_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	reg, repo := newTestRegistry(t)
	s := registerSystem(t, reg, "lab", addr)

	ok, err := reg.TestConnection(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected probe failure against refused connection")
	}

	stored, _ := repo.GetByName(context.Background(), "lab")
	if stored.ConnectionStatus != StatusError {
		t.Errorf("expected error status, got %s", stored.ConnectionStatus)
	}
}

func TestRegistry_TestConnection_RecordsTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg, _ := newTestRegistry(t)
	txns := transaction.NewInMemoryTransactionRepo()
	reg.RecordProbes(transaction.NewLedger(txns, zerolog.Nop()))
	s := registerSystem(t, reg, "lab", srv.URL)

	if _, err := reg.TestConnection(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorded, total, err := txns.List(context.Background(), transaction.ListFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one transaction per probe, got %d", total)
	}
	txn := recorded[0]
	if txn.TransactionType != transaction.TypeConnectivity {
		t.Errorf("expected connectivity transaction, got %s", txn.TransactionType)
	}
	if txn.Status != transaction.StatusCompleted {
		t.Errorf("expected completed transaction, got %s", txn.Status)
	}
	if txn.StatusCode == nil || *txn.StatusCode != 200 {
		t.Errorf("expected status code 200, got %v", txn.StatusCode)
	}
}

func TestRegistry_TestConnection_RecordsFailedTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	reg, _ := newTestRegistry(t)
	txns := transaction.NewInMemoryTransactionRepo()
	reg.RecordProbes(transaction.NewLedger(txns, zerolog.Nop()))
	s := registerSystem(t, reg, "lab", addr)

	if _, err := reg.TestConnection(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorded, total, _ := txns.List(context.Background(), transaction.ListFilter{}, 10, 0)
	if total != 1 {
		t.Fatalf("expected one transaction, got %d", total)
	}
	if recorded[0].Status != transaction.StatusFailed {
		t.Errorf("expected failed transaction for refused probe, got %s", recorded[0].Status)
	}
	if recorded[0].ErrorMessage == "" {
		t.Error("expected error message on failed probe transaction")
	}
}

func TestSystem_SupportsResourceType(t *testing.T) {
	open := &System{}
	if !open.SupportsResourceType("Patient") {
		t.Error("expected empty list to allow any type")
	}

	restricted := &System{SupportedResourceTypes: []string{"Patient", "Observation"}}
	if !restricted.SupportsResourceType("Observation") {
		t.Error("expected Observation to be supported")
	}
	if restricted.SupportsResourceType("Claim") {
		t.Error("expected Claim to be unsupported")
	}
}
