// Package main is the entry point for the OTA update daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/robotailabs/ota-agent/internal/backup"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/engine"
	"github.com/robotailabs/ota-agent/internal/events"
	"github.com/robotailabs/ota-agent/internal/otaclient"
	"github.com/robotailabs/ota-agent/internal/router"
	"github.com/robotailabs/ota-agent/internal/scheduler"
	"github.com/robotailabs/ota-agent/internal/service"
	"github.com/robotailabs/ota-agent/internal/services"
	"github.com/robotailabs/ota-agent/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("OTA Agent %s\n", version.Version)
		fmt.Printf("Build Time: %s\n", version.BuildTime)
		fmt.Printf("Git Commit: %s\n", version.GitCommit)
		os.Exit(0)
	}

	configPath := flag.String("config", "/etc/ota-agent/config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("OTA Agent %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.Device.DeviceID == "" {
		id := uuid.New().String()
		if err := cfg.SetDeviceID(id); err != nil {
			log.Printf("Warning: could not persist generated device ID: %v", err)
		}
		log.Printf("Generated device ID %s", id)
	}

	if cfg.Simulation.Enabled {
		log.Printf("Simulation mode: server=%s root=%s", cfg.ServerURL(), cfg.Simulation.Root)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	stateService := services.NewStateService(db)
	backupService := services.NewBackupService(db)
	downloadService := services.NewDownloadService(db)
	historyService := services.NewHistoryService(db)
	taskService := services.NewTaskService(db)

	bus := events.NewBus()
	client := otaclient.New(cfg)
	manager := backup.NewManager(cfg, backupService)

	eng := engine.New(cfg, client, manager, engine.Stores{
		State:     stateService,
		Backups:   backupService,
		Downloads: downloadService,
		History:   historyService,
	}, bus, nil)

	if cfg.Validation.ServiceName != "" {
		eng.SetService(service.NewController(cfg.Validation.ServiceName))
	}

	ctx := context.Background()

	// Settle anything a crash or power loss left behind before accepting
	// triggers.
	if err := eng.Recover(ctx); err != nil {
		log.Fatalf("Failed to recover persisted state: %v", err)
	}

	sched := scheduler.New(cfg, taskService, eng)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	r := router.New(cfg, eng, sched, backupService, historyService, bus)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("OTA Agent %s (%s %s) listening on %s",
		version.Version, cfg.Device.ProductType, cfg.Device.Version, addr)

	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start control surface: %v", err)
	}
}
