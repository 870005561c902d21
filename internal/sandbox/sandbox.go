// Package sandbox manages the container the agent's tools execute in. The
// gateway never runs agent tools on the host: the wrapper program execs into
// this container, and the gateway only has to make sure it exists and runs.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Container states.
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateMissing = "missing"
)

// Control queries and starts the sandbox container through the docker CLI.
type Control struct {
	Name  string
	Image string
}

func New(name, image string) *Control {
	return &Control{Name: name, Image: image}
}

// State returns running, stopped, or missing.
func (c *Control) State(ctx context.Context) (string, error) {
	out, err := c.docker(ctx, "inspect", "--format", "{{.State.Running}}", c.Name)
	if err != nil {
		// docker inspect exits non-zero for unknown names; anything it
		// cannot find is simply missing.
		if strings.Contains(out, "No such object") || strings.Contains(err.Error(), "exit status") {
			return StateMissing, nil
		}
		return "", fmt.Errorf("inspect container: %w", err)
	}
	if strings.TrimSpace(out) == "true" {
		return StateRunning, nil
	}
	return StateStopped, nil
}

// EnsureRunning is idempotent: running is a no-op, stopped is started,
// missing is created and started.
func (c *Control) EnsureRunning(ctx context.Context) error {
	state, err := c.State(ctx)
	if err != nil {
		return err
	}
	switch state {
	case StateRunning:
		return nil
	case StateStopped:
		logger.Info("starting sandbox container", "name", c.Name)
		if _, err := c.docker(ctx, "start", c.Name); err != nil {
			return fmt.Errorf("start container: %w", err)
		}
		return nil
	default:
		logger.Info("creating sandbox container", "name", c.Name, "image", c.Image)
		_, err := c.docker(ctx, "run", "-d",
			"--name", c.Name,
			"--restart", "unless-stopped",
			c.Image, "sleep", "infinity")
		if err != nil {
			return fmt.Errorf("create container: %w", err)
		}
		return nil
	}
}

// Uptime returns how long the container has been running, or zero when it
// is not.
func (c *Control) Uptime(ctx context.Context) (time.Duration, error) {
	out, err := c.docker(ctx, "inspect", "--format", "{{if .State.Running}}{{.State.StartedAt}}{{end}}", c.Name)
	if err != nil {
		return 0, nil
	}
	started, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(out))
	if err != nil {
		return 0, nil
	}
	return time.Since(started), nil
}

func (c *Control) docker(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
