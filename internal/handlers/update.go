// Package handlers provides the HTTP handlers for the local control surface
// consumed by the GUI and voice front ends.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robotailabs/ota-agent/internal/engine"
	"github.com/robotailabs/ota-agent/internal/scheduler"
)

// UpdateHandler exposes the lifecycle engine triggers and status.
type UpdateHandler struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
}

func NewUpdateHandler(eng *engine.Engine, sched *scheduler.Scheduler) *UpdateHandler {
	return &UpdateHandler{engine: eng, scheduler: sched}
}

// Check triggers an immediate update check and returns the manifest.
func (h *UpdateHandler) Check(c *gin.Context) {
	result, err := h.engine.Check(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Install starts the full update flow in the background.
func (h *UpdateHandler) Install(c *gin.Context) {
	if err := h.engine.Install(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// InstallTonight schedules an install for the next nightly window.
func (h *UpdateHandler) InstallTonight(c *gin.Context) {
	task, err := h.scheduler.InstallTonight()
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// CancelInstall cancels pending scheduled installs and aborts an in-flight
// download if one is running.
func (h *UpdateHandler) CancelInstall(c *gin.Context) {
	cancelled, err := h.scheduler.CancelPendingInstalls()
	if err != nil {
		writeError(c, err)
		return
	}

	downloadCancelled := false
	switch err := h.engine.CancelDownload(); {
	case err == nil:
		downloadCancelled = true
	case errors.Is(err, engine.ErrNotDownloading):
	default:
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cancelled_tasks":    cancelled,
		"download_cancelled": downloadCancelled,
	})
}

// Rollback triggers a manual restore of the most recent verified backup.
func (h *UpdateHandler) Rollback(c *gin.Context) {
	if err := h.engine.Rollback(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "rolling_back"})
}

// Acknowledge clears a failed lifecycle back to idle.
func (h *UpdateHandler) Acknowledge(c *gin.Context) {
	if err := h.engine.Acknowledge(); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "idle"})
}

// Status returns the read-only lifecycle snapshot.
func (h *UpdateHandler) Status(c *gin.Context) {
	snap, err := h.engine.Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Connectivity runs the three independent server probes.
func (h *UpdateHandler) Connectivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Connectivity(c.Request.Context()))
}

// writeError maps engine errors to structured JSON with the right status
// code. The front ends always get a message plus a machine-readable kind,
// never a raw panic.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "Busy"})
	case errors.Is(err, engine.ErrNoBackup):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "NoBackup"})
	case errors.Is(err, engine.ErrNotFailed), errors.Is(err, engine.ErrNotDownloading):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "InvalidState"})
	default:
		status := http.StatusInternalServerError
		kind := engine.Kind(err)
		if kind == engine.KindNetwork || kind == engine.KindManifestInvalid {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
	}
}
