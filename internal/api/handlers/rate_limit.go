package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydradns/internal/api/models"
)

// ClearSidelinedClient godoc
// @Summary Clear a sidelined client
// @Description Releases a client tripped by the sliding-window query-budget limiter, letting it resume immediately instead of waiting out the rest of the window
// @Tags rate-limit
// @Produce json
// @Param client query string true "Client address as recorded on the query (e.g. an IP)"
// @Success 200 {object} models.StatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /rate-limit/sidelined [delete]
func (h *Handler) ClearSidelinedClient(c *gin.Context) {
	client := c.Query("client")
	if client == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "client query parameter is required"})
		return
	}

	fn := h.GetClearSidelinedFunc()
	if fn == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "sliding-window limiter not active"})
		return
	}

	fn(client)
	c.JSON(http.StatusOK, models.StatusResponse{Status: "cleared"})
}
