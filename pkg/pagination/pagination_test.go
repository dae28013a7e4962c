package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	pg := paramsFor(t, "")
	if pg.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, pg.Limit)
	}
	if pg.Offset != 0 {
		t.Errorf("expected offset 0, got %d", pg.Offset)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	pg := paramsFor(t, "limit=5000")
	if pg.Limit != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, pg.Limit)
	}

	pg = paramsFor(t, "limit=-3&offset=-7")
	if pg.Limit != DefaultLimit {
		t.Errorf("expected default limit for negative input, got %d", pg.Limit)
	}
	if pg.Offset != 0 {
		t.Errorf("expected offset clamped to 0, got %d", pg.Offset)
	}
}

func TestFromContext_ExplicitValues(t *testing.T) {
	pg := paramsFor(t, "limit=10&offset=30")
	if pg.Limit != 10 || pg.Offset != 30 {
		t.Errorf("expected 10/30, got %d/%d", pg.Limit, pg.Offset)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	resp := NewResponse(nil, 50, 20, 0)
	if !resp.HasMore {
		t.Error("expected has_more true at first page")
	}

	resp = NewResponse(nil, 50, 20, 40)
	if resp.HasMore {
		t.Error("expected has_more false at last page")
	}
}
