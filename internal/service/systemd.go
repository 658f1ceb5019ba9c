// Package service controls the managed application service under systemd.
// After an install or restore, the application is restarted and its state is
// what post-install validation judges.
package service

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Status is the systemd view of the managed application.
type Status struct {
	IsRunning   bool   `json:"is_running"`
	IsEnabled   bool   `json:"is_enabled"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`
}

// Controller drives one named systemd unit.
type Controller struct {
	name string
}

func NewController(name string) *Controller {
	return &Controller{name: name}
}

// Available reports whether systemd can be driven on this host.
func (c *Controller) Available() bool {
	if runtime.GOOS != "linux" || c.name == "" {
		return false
	}
	_, err := exec.LookPath("systemctl")
	return err == nil
}

func (c *Controller) Restart() error {
	return c.run("restart")
}

func (c *Controller) Start() error {
	return c.run("start")
}

func (c *Controller) Stop() error {
	return c.run("stop")
}

// Current returns the unit's state as systemd reports it.
func (c *Controller) Current() (*Status, error) {
	status := &Status{}
	if !c.Available() {
		return status, nil
	}

	if v, err := c.property("ActiveState"); err == nil {
		status.ActiveState = v
		status.IsRunning = v == "active"
	}
	if v, err := c.property("SubState"); err == nil {
		status.SubState = v
	}

	output, err := exec.Command("systemctl", "is-enabled", c.name).Output()
	if err == nil {
		status.IsEnabled = strings.TrimSpace(string(output)) == "enabled"
	}
	return status, nil
}

func (c *Controller) run(action string) error {
	if !c.Available() {
		return fmt.Errorf("systemd not available for unit %q", c.name)
	}

	cmd := exec.Command("systemctl", action, c.name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %v: %s", action, c.name, err, output)
	}
	return nil
}

func (c *Controller) property(name string) (string, error) {
	cmd := exec.Command("systemctl", "show", c.name, "--property="+name, "--value")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
