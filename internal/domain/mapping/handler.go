package mapping

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/interop/interop/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/mappings", h.ListMappings)
	g.POST("/mappings", h.CreateMapping)
	g.GET("/mappings/:id", h.GetMapping)
	g.POST("/mappings/:id/test", h.TestMapping)
	g.POST("/mappings/:id/activate", h.ActivateMapping)
	g.POST("/mappings/:id/deactivate", h.DeactivateMapping)
}

func (h *Handler) ListMappings(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"
	mappings, total, err := h.engine.List(c.Request().Context(),
		c.QueryParam("type"), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(mappings, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateMapping(c echo.Context) error {
	var m Mapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.engine.Create(c.Request().Context(), &m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMapping(c echo.Context) error {
	m, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

type testRequest struct {
	SampleDocument map[string]interface{} `json:"sample_document"`
}

// TestMapping dry-runs a mapping against a caller-supplied sample document
// and records the outcome on the mapping itself.
func (h *Handler) TestMapping(c echo.Context) error {
	m, err := h.lookup(c)
	if err != nil {
		return err
	}

	var req testRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.engine.Test(c.Request().Context(), m, req.SampleDocument)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ActivateMapping(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) DeactivateMapping(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	m, err := h.lookup(c)
	if err != nil {
		return err
	}
	if err := h.engine.SetActive(c.Request().Context(), m, active); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) lookup(c echo.Context) (*Mapping, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.engine.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "mapping not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return m, nil
}
