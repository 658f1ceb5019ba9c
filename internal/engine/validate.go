package engine

import (
	"context"
	"fmt"
	"log"
	"os/exec"

	"github.com/robotailabs/ota-agent/internal/integrity"
	"github.com/robotailabs/ota-agent/internal/models"
)

// validate confirms the install took: every manifest file must exist at its
// destination with the declared checksum, and the configured health check
// command must succeed within its timeout. A timeout counts as failure, never
// as success.
func (e *Engine) validate(ctx context.Context, manifest *models.Manifest) error {
	root := e.cfg.InstallRoot()

	for _, f := range manifest.Files {
		dest, err := installPath(root, f)
		if err != nil {
			return err
		}

		ok, err := integrity.VerifyFile(dest, f.Checksum)
		if err != nil {
			return fmt.Errorf("required file %s: %w", f.Path, err)
		}
		if !ok {
			return fmt.Errorf("required file %s: checksum mismatch after install", f.Path)
		}
	}

	if err := e.restartService(); err != nil {
		return err
	}
	return e.healthCheck(ctx)
}

// restartService bounces the managed application so the new tree is what the
// health check observes. A service that will not restart is a validation
// failure, not a silent pass.
func (e *Engine) restartService() error {
	if e.svc == nil || !e.svc.Available() {
		return nil
	}
	if err := e.svc.Restart(); err != nil {
		return fmt.Errorf("service restart: %w", err)
	}
	return nil
}

// healthCheck runs the configured service health command. No configured
// command skips the check.
func (e *Engine) healthCheck(ctx context.Context) error {
	command := e.cfg.Validation.HealthCheckCommand
	if command == "" {
		return nil
	}

	timeout := e.cfg.Validation.GetHealthCheckTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("health check timed out after %v", timeout)
	}
	if err != nil {
		return fmt.Errorf("health check failed: %v: %s", err, output)
	}

	log.Printf("[Engine] Health check passed")
	return nil
}
