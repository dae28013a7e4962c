package fhirclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func webhookContext(t *testing.T, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/fhir/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestWebhook_StoresDocument(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewHandler(f.client, f.store)

	c, rec := webhookContext(t, `{"resourceType":"Patient","id":"wh-1"}`)
	if err := h.Webhook(c); err != nil {
		t.Fatalf("Webhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "received" {
		t.Errorf("status field = %v, want received", resp["status"])
	}
	if resp["message"] == "" {
		t.Error("message field empty")
	}

	if n, _ := f.store.Count(c.Request().Context()); n != 1 {
		t.Errorf("stored resources = %d, want 1", n)
	}
}

func TestWebhook_MalformedJSONIs400(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewHandler(f.client, f.store)

	c, _ := webhookContext(t, `{"resourceType": "Patient",`)
	err := h.Webhook(c)
	if err == nil {
		t.Fatal("malformed JSON accepted")
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("err = %v, want 400 HTTPError", err)
	}
}

func TestWebhook_InvalidDocumentStillStoredFlagged(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewHandler(f.client, f.store)

	// Valid JSON, structurally invalid FHIR: stored flagged, not rejected.
	c, rec := webhookContext(t, `{"note":"no resourceType"}`)
	if err := h.Webhook(c); err != nil {
		t.Fatalf("Webhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	resources, _, err := f.resRepo.ListByType(c.Request().Context(), "", 10, 0)
	if err != nil {
		t.Fatalf("ListByType: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("stored resources = %d, want 1", len(resources))
	}
	if resources[0].IsValid {
		t.Error("invalid document stored with isValid = true")
	}
}
