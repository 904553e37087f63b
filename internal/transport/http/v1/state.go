package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetState returns the whole execution state.
// GET /v1/state
func (h *Handler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.State())
}

// GetFiles lists runnable entry points.
// GET /v1/files
func (h *Handler) GetFiles(c echo.Context) error {
	resp, err := h.service.Files()
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
