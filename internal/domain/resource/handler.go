package resource

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/interop/interop/pkg/pagination"
)

// Handler exposes the stored-resource browsing surface. Rows land here as a
// side effect of exchange operations and the webhook; this surface only reads.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/resources", h.ListResources)
	g.GET("/resources/:id", h.GetResource)
}

// ListResources pages stored resources, optionally filtered by FHIR type or
// related patient. The patient filter wins when both are supplied.
func (h *Handler) ListResources(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*FHIRResource
		total int
		err   error
	)
	switch {
	case c.QueryParam("patient") != "":
		items, total, err = h.store.ListByPatient(ctx, c.QueryParam("patient"), pg.Limit, pg.Offset)
	case c.QueryParam("type") != "":
		items, total, err = h.store.ListByType(ctx, c.QueryParam("type"), pg.Limit, pg.Offset)
	default:
		items, total, err = h.store.List(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetResource(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.store.GetLatest(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "resource not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
