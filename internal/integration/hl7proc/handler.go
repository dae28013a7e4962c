package hl7proc

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/interop/interop/internal/domain/hl7msg"
	"github.com/interop/interop/internal/domain/system"
	"github.com/interop/interop/internal/platform/hl7v2"
	"github.com/interop/interop/pkg/pagination"
)

// maxInboundBody caps the raw HL7 payload accepted over HTTP.
const maxInboundBody = 1 << 20

// Handler exposes the inbound HL7 endpoint plus message inspection and
// outbound dispatch routes.
type Handler struct {
	processor *Processor
}

func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7/endpoint", h.Endpoint)
	g.GET("/hl7/messages", h.ListMessages)
	g.GET("/hl7/messages/:id", h.GetMessage)
	g.POST("/hl7/messages/:id/reprocess", h.ReprocessMessage)
	g.POST("/hl7/:system/send", h.SendMessage)
}

// Endpoint ingests a raw HL7 v2.x text body and always answers with the raw
// acknowledgment as text/plain. Malformed input is not a transport error; it
// yields a well-formed AR ack.
func (h *Handler) Endpoint(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInboundBody))
	if err != nil {
		return c.String(http.StatusOK, hl7v2.RejectAck().Render())
	}

	_, ack, err := h.processor.Ingest(c.Request().Context(), raw, nil)
	if err != nil {
		// Storage failed; the ack still tells the sender to retry elsewhere.
		return c.String(http.StatusOK, ack)
	}
	return c.String(http.StatusOK, ack)
}

func (h *Handler) ListMessages(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := hl7msg.ListFilter{
		MessageType: c.QueryParam("type"),
		Status:      c.QueryParam("status"),
		Direction:   c.QueryParam("direction"),
	}
	msgs, total, err := h.processor.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.processor.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, hl7msg.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ReprocessMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, ack, err := h.processor.Reprocess(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, hl7msg.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": m,
		"ack":     ack,
	})
}

type sendRequest struct {
	Kind         string                   `json:"kind"`
	Trigger      string                   `json:"trigger"`
	Patient      map[string]interface{}   `json:"patient"`
	Encounter    map[string]interface{}   `json:"encounter"`
	Order        map[string]interface{}   `json:"order"`
	Report       map[string]interface{}   `json:"report"`
	Observations []map[string]interface{} `json:"observations"`
	Appointment  map[string]interface{}   `json:"appointment"`
}

// SendMessage composes an outbound message from structured FHIR-shaped data
// and delivers it to the named system's HL7 listener.
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var raw []byte
	var err error
	switch req.Kind {
	case "ADT":
		raw, err = hl7v2.ComposeADT(req.Trigger, req.Patient, req.Encounter)
	case "ORM":
		raw, err = hl7v2.ComposeORM(req.Order, req.Patient)
	case "ORU":
		raw, err = hl7v2.ComposeORU(req.Report, req.Observations, req.Patient)
	case "SIU":
		raw, err = hl7v2.ComposeSIU(req.Appointment, req.Patient)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown message kind "+req.Kind)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	m, err := h.processor.Send(c.Request().Context(), c.Param("system"), raw)
	if err != nil {
		if errors.Is(err, system.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "system not found")
		}
		if m != nil {
			// Delivery failed but the message row records the attempt.
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"error":   err.Error(),
				"message": m,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}
