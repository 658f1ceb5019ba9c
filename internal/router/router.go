// Package router wires the control surface routes.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/engine"
	"github.com/robotailabs/ota-agent/internal/events"
	"github.com/robotailabs/ota-agent/internal/handlers"
	"github.com/robotailabs/ota-agent/internal/metrics"
	"github.com/robotailabs/ota-agent/internal/middleware"
	"github.com/robotailabs/ota-agent/internal/scheduler"
	"github.com/robotailabs/ota-agent/internal/services"
	"github.com/robotailabs/ota-agent/internal/version"
)

func New(cfg *config.Config, eng *engine.Engine, sched *scheduler.Scheduler, backups *services.BackupService, history *services.HistoryService, bus *events.Bus) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	updateHandler := handlers.NewUpdateHandler(eng, sched)
	backupHandler := handlers.NewBackupHandler(cfg, backups, history)
	eventsHandler := handlers.NewEventsHandler(bus)
	systemHandler := handlers.NewSystemHandler(
		metrics.NewCollector(cfg.DownloadDir(), cfg.BackupDir(), cfg.InstallRoot()))

	api := r.Group("/api")
	{
		api.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, version.Info())
		})

		api.POST("/check", updateHandler.Check)
		api.POST("/install", updateHandler.Install)
		api.POST("/install/tonight", updateHandler.InstallTonight)
		api.POST("/install/cancel", updateHandler.CancelInstall)
		api.POST("/rollback", updateHandler.Rollback)
		api.POST("/ack", updateHandler.Acknowledge)

		api.GET("/status", updateHandler.Status)
		api.GET("/connectivity", updateHandler.Connectivity)
		api.GET("/backups", backupHandler.List)
		api.GET("/history", backupHandler.History)
		api.GET("/events", eventsHandler.Stream)
		api.GET("/system", systemHandler.Snapshot)
	}

	return r
}
