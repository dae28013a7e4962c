package consent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func systemRouteContext(t *testing.T, method string, consentID, systemID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "systemId")
	c.SetParamValues(consentID, systemID)
	return c, rec
}

func TestHandler_AuthorizeAndRevokeSystem(t *testing.T) {
	l := newTestLedger(t)
	h := NewHandler(l)
	record := grant(t, l, "patient-1", nil)
	systemID := uuid.New()

	c, rec := systemRouteContext(t, http.MethodPost, record.ID.String(), systemID.String())
	if err := h.AuthorizeSystem(c); err != nil {
		t.Fatalf("AuthorizeSystem: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("authorize status = %d, want 200", rec.Code)
	}

	ids, err := l.AuthorizedSystems(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("AuthorizedSystems: %v", err)
	}
	if len(ids) != 1 || ids[0] != systemID {
		t.Fatalf("authorized systems = %v, want [%s]", ids, systemID)
	}

	c, rec = systemRouteContext(t, http.MethodDelete, record.ID.String(), systemID.String())
	if err := h.RevokeSystem(c); err != nil {
		t.Fatalf("RevokeSystem: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("revoke status = %d, want 200", rec.Code)
	}
	if ids, _ := l.AuthorizedSystems(context.Background(), record.ID); len(ids) != 0 {
		t.Errorf("authorized systems after revoke = %v, want none", ids)
	}
}

func TestHandler_AuthorizedSystemsList(t *testing.T) {
	l := newTestLedger(t)
	h := NewHandler(l)
	record := grant(t, l, "patient-1", nil)
	systemID := uuid.New()
	if err := l.AuthorizeSystem(context.Background(), record.ID, systemID); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(record.ID.String())

	if err := h.AuthorizedSystems(c); err != nil {
		t.Fatalf("AuthorizedSystems: %v", err)
	}

	var resp struct {
		Systems []string `json:"systems"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Systems) != 1 || resp.Systems[0] != systemID.String() {
		t.Errorf("systems = %v, want [%s]", resp.Systems, systemID)
	}
}

func TestHandler_AuthorizeSystem_MissingConsentIs404(t *testing.T) {
	l := newTestLedger(t)
	h := NewHandler(l)

	c, _ := systemRouteContext(t, http.MethodPost, uuid.NewString(), uuid.NewString())
	err := h.AuthorizeSystem(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("err = %v, want 404 HTTPError", err)
	}
}

func TestHandler_AuthorizeSystem_BadIDsAre400(t *testing.T) {
	h := NewHandler(NewLedger(NewInMemoryConsentRepo(), zerolog.Nop()))

	c, _ := systemRouteContext(t, http.MethodPost, "not-a-uuid", uuid.NewString())
	if he, ok := h.AuthorizeSystem(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Error("expected 400 for malformed consent id")
	}

	c, _ = systemRouteContext(t, http.MethodPost, uuid.NewString(), "not-a-uuid")
	if he, ok := h.AuthorizeSystem(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Error("expected 400 for malformed system id")
	}
}
