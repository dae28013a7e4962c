package fhirclient

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/interop/interop/internal/domain/resource"
	"github.com/interop/interop/internal/domain/system"
)

// Handler exposes operator-facing exchange endpoints plus the inbound FHIR
// webhook.
type Handler struct {
	client *Client
	store  *resource.Store
}

func NewHandler(client *Client, store *resource.Store) *Handler {
	return &Handler{client: client, store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/fhir/:system/read", h.Read)
	g.POST("/fhir/:system/create", h.Create)
	g.POST("/fhir/:system/search", h.Search)
	g.POST("/fhir/webhook", h.Webhook)
}

type readRequest struct {
	ResourceType string `json:"resource_type"`
	ID           string `json:"id"`
}

func (h *Handler) Read(c echo.Context) error {
	var req readRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceType == "" || req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type and id are required")
	}

	res, err := h.client.Read(c.Request().Context(), c.Param("system"), req.ResourceType, req.ID)
	if err != nil {
		return exchangeError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Create(c echo.Context) error {
	var doc map[string]interface{}
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.client.Create(c.Request().Context(), c.Param("system"), doc)
	if err != nil {
		return exchangeError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

type searchRequest struct {
	ResourceType string            `json:"resource_type"`
	Params       map[string]string `json:"params"`
}

func (h *Handler) Search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type is required")
	}

	params := url.Values{}
	for k, v := range req.Params {
		params.Set(k, v)
	}
	bundle, err := h.client.Search(c.Request().Context(), c.Param("system"), req.ResourceType, params)
	if err != nil {
		return exchangeError(err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// Webhook ingests a FHIR document pushed by a remote system. Malformed JSON
// is a 400; a storage failure is a 500 with the error text.
func (h *Handler) Webhook(c echo.Context) error {
	var doc map[string]interface{}
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed JSON body")
	}

	res, err := h.store.Persist(c.Request().Context(), doc, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "received",
		"message": "resource " + res.ResourceID.String() + " stored",
	})
}

// exchangeError maps client errors onto HTTP responses for operators.
func exchangeError(err error) error {
	var remote *RemoteError
	var cfg *ConfigError
	switch {
	case errors.Is(err, ErrConsentDenied):
		return echo.NewHTTPError(http.StatusForbidden, "consent denied")
	case errors.Is(err, system.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "system not found")
	case errors.As(err, &remote):
		return echo.NewHTTPError(http.StatusBadGateway, remote.Error())
	case errors.As(err, &cfg):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, cfg.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
