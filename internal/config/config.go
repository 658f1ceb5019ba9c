// Package config loads and persists the OTA agent configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Device     DeviceConfig     `yaml:"device"`
	Update     UpdateConfig     `yaml:"update"`
	Download   DownloadConfig   `yaml:"download"`
	Backup     BackupConfig     `yaml:"backup"`
	Validation ValidationConfig `yaml:"validation"`
	Simulation SimulationConfig `yaml:"simulation"`
	Database   DatabaseConfig   `yaml:"database"`

	path string
}

// ServerConfig is the local control surface listener. It is consumed by the
// GUI and voice front ends only, so it binds to loopback by default.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DeviceConfig struct {
	ProductType string `yaml:"product_type"`
	Version     string `yaml:"version"`
	DeviceID    string `yaml:"device_id"`
}

type UpdateConfig struct {
	Server      string   `yaml:"update_server"`
	CheckTimes  []string `yaml:"update_check_times"`
	NightlyTime string   `yaml:"nightly_install_time"`
	// SigningKey is a hex-encoded ed25519 public key. When empty, package
	// signature verification is disabled.
	SigningKey string `yaml:"signing_key"`
}

type DownloadConfig struct {
	Dir         string `yaml:"dir"`
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	Timeout     string `yaml:"timeout"`
	Concurrency int    `yaml:"concurrency"`
}

type BackupConfig struct {
	Dir             string   `yaml:"dir"`
	RetentionCount  int      `yaml:"backup_retention_count"`
	Locations       []string `yaml:"locations"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	EstimatedSizeMB int64    `yaml:"estimated_size_mb"`
	HeadroomMB      int64    `yaml:"headroom_mb"`
}

type ValidationConfig struct {
	// ServiceName is the systemd unit restarted after an install or restore.
	// Empty skips service management entirely.
	ServiceName        string `yaml:"service_name"`
	HealthCheckCommand string `yaml:"health_check_command"`
	HealthCheckTimeout string `yaml:"health_check_timeout"`
}

// SimulationConfig routes the agent at test infrastructure instead of
// production servers and paths. With simulation mode on, downloads, installs
// and backups all happen under Root.
type SimulationConfig struct {
	Enabled bool   `yaml:"simulation_mode"`
	Server  string `yaml:"server"`
	Root    string `yaml:"root"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads the config file at path, applying defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	setDefaults(cfg)
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8723
	}
	if cfg.Device.ProductType == "" {
		cfg.Device.ProductType = "robot_ai"
	}
	if cfg.Device.Version == "" {
		cfg.Device.Version = "1.0.0"
	}
	if cfg.Update.Server == "" {
		cfg.Update.Server = "https://updates.robot-ai.example.com"
	}
	if len(cfg.Update.CheckTimes) == 0 {
		cfg.Update.CheckTimes = []string{"03:00", "04:00", "05:00"}
	}
	if cfg.Update.NightlyTime == "" {
		cfg.Update.NightlyTime = "03:00"
	}
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = "/var/lib/ota-agent/downloads"
	}
	if cfg.Download.MaxAttempts == 0 {
		cfg.Download.MaxAttempts = 5
	}
	if cfg.Download.BaseDelay == "" {
		cfg.Download.BaseDelay = "5s"
	}
	if cfg.Download.MaxDelay == "" {
		cfg.Download.MaxDelay = "2m"
	}
	if cfg.Download.Timeout == "" {
		cfg.Download.Timeout = "5m"
	}
	if cfg.Download.Concurrency == 0 {
		cfg.Download.Concurrency = 2
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "/var/lib/ota-agent/backups"
	}
	if cfg.Backup.RetentionCount == 0 {
		cfg.Backup.RetentionCount = 2
	}
	if len(cfg.Backup.Locations) == 0 {
		cfg.Backup.Locations = []string{"/opt/robot-ai", "/etc/robot-ai"}
	}
	if len(cfg.Backup.ExcludePatterns) == 0 {
		cfg.Backup.ExcludePatterns = []string{"*.log", "*.tmp", "logs"}
	}
	if cfg.Backup.EstimatedSizeMB == 0 {
		cfg.Backup.EstimatedSizeMB = 500
	}
	if cfg.Backup.HeadroomMB == 0 {
		cfg.Backup.HeadroomMB = 100
	}
	if cfg.Validation.HealthCheckTimeout == "" {
		cfg.Validation.HealthCheckTimeout = "30s"
	}
	if cfg.Simulation.Server == "" {
		cfg.Simulation.Server = "http://127.0.0.1:5000"
	}
	if cfg.Simulation.Root == "" {
		cfg.Simulation.Root = "/tmp/ota-agent-sim"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/ota-agent/ota.db"
	}
}

// Save writes the configuration back to disk atomically (write-new-then-
// rename), so a crash mid-write never corrupts the config file.
func (c *Config) Save() error {
	if c.path == "" {
		return nil
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), c.path)
}

// SetVersion records a new current version and persists it.
func (c *Config) SetVersion(version string) error {
	c.Device.Version = version
	return c.Save()
}

// SetDeviceID records a generated device ID and persists it.
func (c *Config) SetDeviceID(id string) error {
	c.Device.DeviceID = id
	return c.Save()
}

// ServerURL returns the update server base URL, routed to the simulation
// server when simulation mode is enabled.
func (c *Config) ServerURL() string {
	if c.Simulation.Enabled {
		return c.Simulation.Server
	}
	return c.Update.Server
}

// DownloadDir returns the package download directory for the active
// environment. Test runs never touch production package storage.
func (c *Config) DownloadDir() string {
	if c.Simulation.Enabled {
		return filepath.Join(c.Simulation.Root, "downloads")
	}
	return c.Download.Dir
}

// BackupDir returns the backup store directory for the active environment.
func (c *Config) BackupDir() string {
	if c.Simulation.Enabled {
		return filepath.Join(c.Simulation.Root, "backups")
	}
	return c.Backup.Dir
}

// InstallRoot is the filesystem prefix installs and restores operate under.
// Production uses the real root; simulation is sandboxed.
func (c *Config) InstallRoot() string {
	if c.Simulation.Enabled {
		return filepath.Join(c.Simulation.Root, "root")
	}
	return "/"
}

// BackupLocations returns the directories included in a snapshot, resolved
// against the install root.
func (c *Config) BackupLocations() []string {
	root := c.InstallRoot()
	if root == "/" {
		return c.Backup.Locations
	}
	locations := make([]string, 0, len(c.Backup.Locations))
	for _, loc := range c.Backup.Locations {
		locations = append(locations, filepath.Join(root, loc))
	}
	return locations
}

func (c *DownloadConfig) GetBaseDelay() time.Duration {
	return parseDuration(c.BaseDelay, 5*time.Second)
}

func (c *DownloadConfig) GetMaxDelay() time.Duration {
	return parseDuration(c.MaxDelay, 2*time.Minute)
}

func (c *DownloadConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 5*time.Minute)
}

func (c *ValidationConfig) GetHealthCheckTimeout() time.Duration {
	return parseDuration(c.HealthCheckTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate rejects configurations the agent cannot safely run with.
func (c *Config) Validate() error {
	for _, t := range c.Update.CheckTimes {
		if _, err := ParseCheckTime(t); err != nil {
			return fmt.Errorf("invalid update_check_times entry %q: %w", t, err)
		}
	}
	if _, err := ParseCheckTime(c.Update.NightlyTime); err != nil {
		return fmt.Errorf("invalid nightly_install_time %q: %w", c.Update.NightlyTime, err)
	}
	if c.Backup.RetentionCount < 1 {
		return fmt.Errorf("backup_retention_count must be at least 1")
	}
	return nil
}

// CheckTime is a daily wall-clock trigger time.
type CheckTime struct {
	Hour   int
	Minute int
}

// ParseCheckTime parses an HH:MM 24-hour time string.
func ParseCheckTime(s string) (CheckTime, error) {
	var ct CheckTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("expected HH:MM: %w", err)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("time %q out of range", s)
	}
	return ct, nil
}
