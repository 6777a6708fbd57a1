package dockercheck

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Engine abstracts the container runtime for testability.
type Engine interface {
	BuildImage(ctx context.Context, dir, tag string, timeout time.Duration) (string, error)
	RunDetached(ctx context.Context, image, name string) (string, error)
	Logs(ctx context.Context, name string) (string, error)
	CopyIn(ctx context.Context, name, hostPath, containerPath string) error
	Exec(ctx context.Context, name string, args ...string) (string, error)
	Remove(ctx context.Context, name, image string)
}

// RealEngine is the production implementation that calls the docker binary.
type RealEngine struct{}

func (RealEngine) BuildImage(ctx context.Context, dir, tag string, timeout time.Duration) (string, error) {
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := docker(buildCtx, dir, "build", "-t", tag, ".")
	if buildCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("docker build timed out (%ds)", int(timeout.Seconds()))
	}
	if err != nil {
		return out, fmt.Errorf("docker build failed: %w", err)
	}
	return out, nil
}

func (RealEngine) RunDetached(ctx context.Context, image, name string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	out, err := docker(runCtx, "", "run", "-d", "--name", name, image)
	if err != nil {
		return out, fmt.Errorf("docker run failed: %w", err)
	}
	return out, nil
}

func (RealEngine) Logs(ctx context.Context, name string) (string, error) {
	logCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := docker(logCtx, "", "logs", name)
	if err != nil {
		return out, fmt.Errorf("docker logs %q: %w", name, err)
	}
	return out, nil
}

func (RealEngine) CopyIn(ctx context.Context, name, hostPath, containerPath string) error {
	cpCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := docker(cpCtx, "", "cp", hostPath, name+":"+containerPath)
	if err != nil {
		return fmt.Errorf("docker cp into %q: %s: %w", name, strings.TrimSpace(out), err)
	}
	return nil
}

func (RealEngine) Exec(ctx context.Context, name string, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	out, err := docker(execCtx, "", append([]string{"exec", name}, args...)...)
	if err != nil {
		return out, fmt.Errorf("docker exec in %q: %w", name, err)
	}
	return out, nil
}

// Remove force-removes the container and its image. Best effort; leftover
// objects only waste disk, they cannot corrupt results.
func (RealEngine) Remove(ctx context.Context, name, image string) {
	rmCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	docker(rmCtx, "", "rm", "-f", name)
	docker(rmCtx, "", "rmi", "-f", image)
}

// docker runs one docker CLI invocation and returns its combined output.
func docker(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
