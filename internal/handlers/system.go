package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robotailabs/ota-agent/internal/metrics"
)

// SystemHandler exposes device resource health.
type SystemHandler struct {
	collector *metrics.Collector
}

func NewSystemHandler(collector *metrics.Collector) *SystemHandler {
	return &SystemHandler{collector: collector}
}

func (h *SystemHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Collect(c.Request.Context()))
}
