package container

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/errdefs"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/autominion/minion/internal/log"
)

// Run creates the agent container, streams its output to the host's
// stdout/stderr, and blocks until it exits. A nonzero exit surfaces as
// *ExitError. The container is removed on return regardless of outcome.
func (r *Runtime) Run(ctx context.Context, spec Spec) error {
	if err := r.EnsureImage(ctx, spec.Image); err != nil {
		return err
	}

	ociRuntime := ociRuntimeFor(spec.Nested, r.runscAvailable())

	resp, err := r.cli.ContainerCreate(ctx,
		&containertypes.Config{
			Image: spec.Image,
			Env:   envStrings(spec.Env),
		},
		&containertypes.HostConfig{
			Runtime: ociRuntime,
			// Resolves to the host on native Linux engines; Docker
			// Desktop provides the name on its own.
			ExtraHosts: []string{"host.docker.internal:host-gateway"},
		},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	containerID := resp.ID
	defer r.remove(containerID)

	attach, err := r.cli.ContainerAttach(ctx, containerID, containertypes.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return fmt.Errorf("attaching to container: %w", err)
	}
	defer attach.Close()

	if err := r.cli.ContainerStart(ctx, containerID, containertypes.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	log.Info("agent container started", "id", containerID[:12], "image", spec.Image, "runtime", ociRuntime)

	var g errgroup.Group
	g.Go(func() error {
		// Demux the engine's multiplexed stream onto the host's own
		// stdout and stderr.
		if _, err := stdcopy.StdCopy(os.Stdout, os.Stderr, attach.Reader); err != nil {
			return fmt.Errorf("forwarding container output: %w", err)
		}
		return nil
	})

	var exitCode int64
	g.Go(func() error {
		statusCh, errCh := r.cli.ContainerWait(ctx, containerID, containertypes.WaitConditionNotRunning)
		select {
		case err := <-errCh:
			return fmt.Errorf("waiting for container: %w", err)
		case status := <-statusCh:
			exitCode = status.StatusCode
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if exitCode != 0 {
		return &ExitError{Code: exitCode}
	}
	return nil
}

// remove force-removes a container, tolerating one that is already gone.
func (r *Runtime) remove(containerID string) {
	ctx := context.Background()
	err := r.cli.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		log.Warn("removing container", "id", containerID[:12], "error", err)
	}
}
