package system

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/interop/interop/pkg/pagination"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/systems", h.ListSystems)
	g.POST("/systems", h.RegisterSystem)
	g.GET("/systems/:id", h.GetSystem)
	g.POST("/systems/:id/test", h.TestConnection)
	g.GET("/status", h.ConnectionStatus)
}

func (h *Handler) ListSystems(c echo.Context) error {
	pg := pagination.FromContext(c)
	systems, total, err := h.registry.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(systems, total, pg.Limit, pg.Offset))
}

func (h *Handler) RegisterSystem(c echo.Context) error {
	var s System
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.registry.Register(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSystem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.registry.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "system not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) TestConnection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.registry.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "system not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ok, err := h.registry.TestConnection(c.Request().Context(), s)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected":                  ok,
		"connection_status":          s.ConnectionStatus,
		"last_successful_connection": s.LastSuccessfulConnection,
	})
}

// ConnectionStatus summarizes every registered system's connection state.
func (h *Handler) ConnectionStatus(c echo.Context) error {
	systems, _, err := h.registry.List(c.Request().Context(), pagination.MaxLimit, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]map[string]interface{}, 0, len(systems))
	for _, s := range systems {
		out = append(out, map[string]interface{}{
			"name":                       s.Name,
			"kind":                       s.Kind,
			"connection_status":          s.ConnectionStatus,
			"last_successful_connection": s.LastSuccessfulConnection,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"systems": out})
}
