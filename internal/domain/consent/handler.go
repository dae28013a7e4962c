package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/interop/interop/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/consents", h.ListConsents)
	g.POST("/consents", h.GrantConsent)
	g.GET("/consents/:id", h.GetConsent)
	g.POST("/consents/withdraw", h.WithdrawConsent)
	g.POST("/consents/extend", h.ExtendConsent)
	g.GET("/consents/:id/systems", h.AuthorizedSystems)
	g.POST("/consents/:id/systems/:systemId", h.AuthorizeSystem)
	g.DELETE("/consents/:id/systems/:systemId", h.RevokeSystem)
}

func (h *Handler) ListConsents(c echo.Context) error {
	if patient := c.QueryParam("patient"); patient != "" {
		items, err := h.ledger.ListByPatient(c.Request().Context(), patient)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
	}

	pg := pagination.FromContext(c)
	items, total, err := h.ledger.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type grantRequest struct {
	Patient     string     `json:"patient"`
	ConsentType string     `json:"consent_type"`
	Purpose     string     `json:"purpose"`
	Scope       []string   `json:"scope"`
	ExpiresAt   *time.Time `json:"expires_at"`
	LegalBasis  string     `json:"legal_basis"`
}

func (h *Handler) GrantConsent(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	consent, err := h.ledger.Grant(c.Request().Context(), GrantParams{
		Patient:     req.Patient,
		ConsentType: req.ConsentType,
		Purpose:     req.Purpose,
		Scope:       req.Scope,
		ExpiresAt:   req.ExpiresAt,
		LegalBasis:  req.LegalBasis,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, consent)
}

func (h *Handler) GetConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	consent, err := h.ledger.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, consent)
}

// consentSystemIDs parses the :id and :systemId route parameters.
func consentSystemIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	consentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid consent id")
	}
	systemID, err := uuid.Parse(c.Param("systemId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid system id")
	}
	return consentID, systemID, nil
}

func (h *Handler) AuthorizeSystem(c echo.Context) error {
	consentID, systemID, err := consentSystemIDs(c)
	if err != nil {
		return err
	}
	if err := h.ledger.AuthorizeSystem(c.Request().Context(), consentID, systemID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "authorized"})
}

func (h *Handler) RevokeSystem(c echo.Context) error {
	consentID, systemID, err := consentSystemIDs(c)
	if err != nil {
		return err
	}
	if err := h.ledger.RevokeSystem(c.Request().Context(), consentID, systemID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) AuthorizedSystems(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consent id")
	}
	ids, err := h.ledger.AuthorizedSystems(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"systems": ids})
}

type withdrawRequest struct {
	Patient     string `json:"patient"`
	ConsentType string `json:"consent_type"`
	Reason      string `json:"reason"`
	Actor       string `json:"actor"`
}

func (h *Handler) WithdrawConsent(c echo.Context) error {
	var req withdrawRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err := h.ledger.Withdraw(c.Request().Context(), req.Patient, req.ConsentType, req.Reason, req.Actor)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "withdrawn"})
}

type extendRequest struct {
	Patient     string    `json:"patient"`
	ConsentType string    `json:"consent_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) ExtendConsent(c echo.Context) error {
	var req extendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err := h.ledger.Extend(c.Request().Context(), req.Patient, req.ConsentType, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "extended"})
}
