package fhirclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/interop/interop/internal/domain/consent"
	"github.com/interop/interop/internal/domain/resource"
	"github.com/interop/interop/internal/domain/system"
	"github.com/interop/interop/internal/domain/transaction"
)

type fixture struct {
	client   *Client
	registry *system.Registry
	consents *consent.Ledger
	store    *resource.Store
	txns     *transaction.InMemoryTransactionRepo
	resRepo  *resource.InMemoryResourceRepo
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	registry := system.NewRegistry(system.NewInMemorySystemRepo(), time.Second, zerolog.Nop())
	consents := consent.NewLedger(consent.NewInMemoryConsentRepo(), zerolog.Nop())
	resRepo := resource.NewInMemoryResourceRepo()
	store := resource.NewStore(resRepo)
	txns := transaction.NewInMemoryTransactionRepo()
	ledger := transaction.NewLedger(txns, zerolog.Nop())

	return &fixture{
		client:   NewClient(registry, consents, store, ledger, opts, zerolog.Nop()),
		registry: registry,
		consents: consents,
		store:    store,
		txns:     txns,
		resRepo:  resRepo,
	}
}

func (f *fixture) registerSystem(t *testing.T, baseURL string) *system.System {
	t.Helper()
	s := &system.System{Name: "remote-ehr", Kind: "ehr", BaseURL: baseURL}
	if err := f.registry.Register(context.Background(), s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return s
}

func (f *fixture) onlyTransaction(t *testing.T) *transaction.Transaction {
	t.Helper()
	txns, total, err := f.txns.List(context.Background(), transaction.ListFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("List transactions: %v", err)
	}
	if total != 1 {
		t.Fatalf("transaction count = %d, want 1", total)
	}
	return txns[0]
}

func TestRead_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Patient/123" {
			t.Errorf("path = %s, want /Patient/123", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/fhir+json" {
			t.Errorf("Accept = %s", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Patient", "id": "123",
		})
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)

	res, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "123")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !res.IsValid {
		t.Errorf("persisted resource isValid = false, errors: %v", res.ValidationErrors)
	}
	if res.Data["id"] != "123" {
		t.Errorf("resource id = %v, want 123", res.Data["id"])
	}

	txn := f.onlyTransaction(t)
	if txn.Status != transaction.StatusCompleted {
		t.Errorf("transaction status = %s, want completed", txn.Status)
	}
	if txn.StatusCode == nil || *txn.StatusCode != 200 {
		t.Errorf("transaction statusCode = %v, want 200", txn.StatusCode)
	}
	if txn.DurationMs == nil || *txn.DurationMs < 0 {
		t.Errorf("durationMs = %v, want non-negative", txn.DurationMs)
	}
}

func TestRead_RemoteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "OperationOutcome",
		})
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)

	_, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "missing")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.StatusCode != 404 {
		t.Errorf("remote statusCode = %d, want 404", remote.StatusCode)
	}

	txn := f.onlyTransaction(t)
	if txn.Status != transaction.StatusFailed {
		t.Errorf("transaction status = %s, want failed", txn.Status)
	}
	if txn.StatusCode == nil || *txn.StatusCode != 404 {
		t.Errorf("transaction statusCode = %v, want 404", txn.StatusCode)
	}
	if txn.ErrorMessage == "" {
		t.Error("failed transaction has empty error message")
	}

	if n, _ := f.store.Count(context.Background()); n != 0 {
		t.Errorf("stored resources = %d, want 0", n)
	}
}

func TestRead_NonJSONErrorBodyCapturedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)

	_, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "1")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.Body["error"] != "upstream exploded" {
		t.Errorf("body = %v, want verbatim text under error key", remote.Body)
	}
}

func TestCreate_ConsentDeniedMakesNoNetworkCall(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)
	// No consent granted for this patient at all.

	doc := map[string]interface{}{
		"resourceType": "Observation",
		"id":           "obs-1",
		"subject":      map[string]interface{}{"reference": "Patient/p-77"},
	}
	_, err := f.client.Create(context.Background(), "remote-ehr", doc)
	if !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("err = %v, want ErrConsentDenied", err)
	}
	if n := atomic.LoadInt64(&calls); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
	if _, total, _ := f.txns.List(context.Background(), transaction.ListFilter{}, 10, 0); total != 0 {
		t.Errorf("transactions = %d, want 0 on the denied path", total)
	}
}

func TestCreate_WithValidConsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/fhir+json" {
			t.Errorf("Content-Type = %s", got)
		}
		var doc map[string]interface{}
		json.NewDecoder(r.Body).Decode(&doc)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)
	if _, err := f.consents.Grant(context.Background(), consent.GrantParams{
		Patient:     "p-77",
		ConsentType: consent.TypeDataSharing,
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	doc := map[string]interface{}{
		"resourceType": "Observation",
		"id":           "obs-1",
		"subject":      map[string]interface{}{"reference": "Patient/p-77"},
	}
	res, err := f.client.Create(context.Background(), "remote-ehr", doc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.RelatedPatient == nil || *res.RelatedPatient != "p-77" {
		t.Errorf("relatedPatient = %v, want p-77", res.RelatedPatient)
	}

	txn := f.onlyTransaction(t)
	if txn.Status != transaction.StatusCompleted {
		t.Errorf("transaction status = %s, want completed", txn.Status)
	}
	if txn.StatusCode == nil || *txn.StatusCode != 201 {
		t.Errorf("statusCode = %v, want 201", txn.StatusCode)
	}
}

func TestSearch_PersistsFirstTenEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "smith" {
			t.Errorf("search param name = %s, want smith", got)
		}
		entries := make([]interface{}, 0, 12)
		for i := 0; i < 12; i++ {
			entries = append(entries, map[string]interface{}{
				"resource": map[string]interface{}{
					"resourceType": "Patient",
					"id":           string(rune('a' + i)),
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Bundle",
			"entry":        entries,
		})
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)

	params := url.Values{}
	params.Set("name", "smith")
	bundle, err := f.client.Search(context.Background(), "remote-ehr", "Patient", params)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if bundle["resourceType"] != "Bundle" {
		t.Errorf("resourceType = %v, want Bundle", bundle["resourceType"])
	}

	if n, _ := f.store.Count(context.Background()); n != 10 {
		t.Errorf("persisted entries = %d, want 10", n)
	}
	txn := f.onlyTransaction(t)
	if txn.Status != transaction.StatusCompleted {
		t.Errorf("transaction status = %s, want completed", txn.Status)
	}
}

func TestRead_TimeoutFinalizesTransaction(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := newFixture(t, Options{Timeout: 50 * time.Millisecond})
	f.registerSystem(t, srv.URL)

	_, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "1")
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %v, want TransportError", err)
	}

	txn := f.onlyTransaction(t)
	if txn.Status != transaction.StatusTimeout {
		t.Errorf("transaction status = %s, want timeout", txn.Status)
	}
	if txn.CompletedAt == nil {
		t.Error("timed-out transaction left without completion timestamp")
	}
}

func TestRead_ConnectionRefusedFailsTransaction(t *testing.T) {
	f := newFixture(t, Options{Timeout: time.Second})
	f.registerSystem(t, "http://127.0.0.1:1")

	_, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "1")
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %v, want TransportError", err)
	}

	txn := f.onlyTransaction(t)
	if txn.Status != transaction.StatusFailed {
		t.Errorf("transaction status = %s, want failed", txn.Status)
	}
	if txn.ErrorMessage == "" {
		t.Error("transport failure left empty error message")
	}
}

func TestExchange_PerSystemInflightCap(t *testing.T) {
	var reached int64
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&reached, 1)
		arrived <- struct{}{}
		<-release
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Patient", "id": "1",
		})
	}))
	defer srv.Close()

	f := newFixture(t, Options{MaxInflight: 1, Timeout: 5 * time.Second})
	f.registerSystem(t, srv.URL)

	done := make(chan error, 2)
	go func() {
		_, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "1")
		done <- err
	}()
	<-arrived

	// The first call holds the system's only slot inside the server; the
	// second must queue on the client side without reaching the remote.
	go func() {
		_, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "2")
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt64(&reached); n != 1 {
		t.Fatalf("requests at server while slot held = %d, want 1", n)
	}

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if n := atomic.LoadInt64(&reached); n != 2 {
		t.Errorf("total requests served = %d, want 2", n)
	}
}

func TestCreate_RequiresResourceType(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.client.Create(context.Background(), "remote-ehr",
		map[string]interface{}{"id": "1"}); err == nil {
		t.Error("document without resourceType accepted")
	}
}

func TestRead_InvalidRemoteDocumentStoredFlagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Missing id: structurally invalid but still a 200.
		json.NewEncoder(w).Encode(map[string]interface{}{"resourceType": "Patient"})
	}))
	defer srv.Close()

	f := newFixture(t, Options{})
	f.registerSystem(t, srv.URL)

	res, err := f.client.Read(context.Background(), "remote-ehr", "Patient", "1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.IsValid {
		t.Error("invalid document stored with isValid = true")
	}
	if len(res.ValidationErrors) == 0 {
		t.Error("invalid document stored without validation errors")
	}
}
