package gateway

import (
	"context"
	"os/exec"
	"time"

	"github.com/jbctechsolutions/petsync/internal/domain/errors"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/binpath"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
)

// restartTimeout bounds one gateway restart invocation.
const restartTimeout = 30 * time.Second

// Controller restarts the local gateway through the agent CLI.
type Controller struct {
	binaryName string
	logger     *logging.Logger
	onRestart  func(at time.Time)

	// findBin is swappable for tests.
	findBin func(name string) string
	runCmd  func(ctx context.Context, bin string, env []string, args ...string) error
}

// NewController creates a gateway controller for the named agent binary.
// onRestart, if non-nil, is invoked after each successful restart.
func NewController(binaryName string, logger *logging.Logger, onRestart func(at time.Time)) *Controller {
	return &Controller{
		binaryName: binaryName,
		logger:     logger,
		onRestart:  onRestart,
		findBin:    binpath.Find,
		runCmd:     runCommand,
	}
}

// Restart runs `<agent> gateway restart` with the binary's directory
// prepended to PATH, so version-manager installs resolve their own runtime.
func (c *Controller) Restart(ctx context.Context) error {
	bin := c.findBin(c.binaryName)
	if bin == "" {
		c.logger.Warn("agent binary not found, skipping gateway restart", "binary", c.binaryName)
		return errors.ErrGatewayNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, restartTimeout)
	defer cancel()

	c.logger.Info("restarting gateway", "binary", bin)
	if err := c.runCmd(ctx, bin, binpath.EnvForBin(bin), "gateway", "restart"); err != nil {
		c.logger.Error("gateway restart failed", "error", err)
		return errors.NewError(errors.CodeGateway, "gateway restart failed", err)
	}

	c.logger.Info("gateway restarted")
	if c.onRestart != nil {
		c.onRestart(time.Now())
	}
	return nil
}

func runCommand(ctx context.Context, bin string, env []string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = env
	return cmd.Run()
}
