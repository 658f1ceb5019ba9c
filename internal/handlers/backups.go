package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/services"
)

// BackupHandler exposes backup metadata and update history, read-only.
type BackupHandler struct {
	cfg     *config.Config
	backups *services.BackupService
	history *services.HistoryService
}

func NewBackupHandler(cfg *config.Config, backups *services.BackupService, history *services.HistoryService) *BackupHandler {
	return &BackupHandler{cfg: cfg, backups: backups, history: history}
}

// List returns all backups for this device's product, newest first.
func (h *BackupHandler) List(c *gin.Context) {
	backups, err := h.backups.List(h.cfg.Device.ProductType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, backups)
}

// History returns recent update and rollback outcomes.
func (h *BackupHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.history.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, entries)
}
