// Package container runs the agent container against the local Docker
// engine. It owns image resolution (pull or build), host address
// resolution for the control-plane listener, and the run-to-completion
// lifecycle with output forwarding.
package container

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/autominion/minion/internal/log"
)

// EnvVar is a single environment variable. Order is preserved when the
// container is created.
type EnvVar struct {
	Name  string
	Value string
}

// Spec describes the agent container to run.
type Spec struct {
	Image string
	Env   []EnvVar
	// Nested selects the sysbox-runc OCI runtime so the agent can run
	// its own containers inside the sandbox.
	Nested bool
}

// ExitError reports a container that ran but exited nonzero.
type ExitError struct {
	Code int64
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container exited with status %d", e.Code)
}

// HostResolver yields the host-side address the agent container can reach
// the control-plane server on.
type HostResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// loopbackResolver serves platforms where Docker Desktop forwards
// host.docker.internal to the host loopback.
type loopbackResolver struct{}

func (loopbackResolver) Resolve(ctx context.Context) (string, error) {
	return "127.0.0.1", nil
}

// bridgeGatewayResolver serves native Linux engines, where containers reach
// the host through the default bridge network's gateway.
type bridgeGatewayResolver struct {
	cli *client.Client
}

func (r bridgeGatewayResolver) Resolve(ctx context.Context) (string, error) {
	inspect, err := r.cli.NetworkInspect(ctx, "bridge", network.InspectOptions{})
	if err != nil {
		return "", fmt.Errorf("inspecting bridge network: %w", err)
	}
	addr, err := bridgeGateway(inspect.IPAM.Config)
	if err != nil {
		return "", err
	}
	return addr, nil
}

func bridgeGateway(configs []network.IPAMConfig) (string, error) {
	for _, cfg := range configs {
		if cfg.Gateway != "" {
			return cfg.Gateway, nil
		}
	}
	return "", fmt.Errorf("bridge network has no gateway address")
}

// Runtime wraps the Docker engine client with minion-specific operations.
type Runtime struct {
	cli      *client.Client
	resolver HostResolver

	// gVisor availability cache (initialized once via sync.Once, safe for
	// concurrent reads).
	runscOnce  sync.Once
	runscAvail bool
}

// Connect creates a runtime and verifies the engine is reachable.
func Connect(ctx context.Context) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("container engine not reachable: %w", err)
	}

	r := &Runtime{cli: cli}
	r.resolver = resolverFor(goruntime.GOOS, cli)
	return r, nil
}

func resolverFor(goos string, cli *client.Client) HostResolver {
	switch goos {
	case "darwin", "windows":
		return loopbackResolver{}
	default:
		return bridgeGatewayResolver{cli: cli}
	}
}

// HostAddress returns the address the control-plane server should bind so
// the agent container can reach it.
func (r *Runtime) HostAddress(ctx context.Context) (string, error) {
	return r.resolver.Resolve(ctx)
}

// Close releases Docker client resources.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// ociRuntimeFor selects the OCI runtime for a spec. Nested runs need
// sysbox-runc; otherwise gVisor is used when the daemon advertises it, and
// the engine default applies when it does not.
func ociRuntimeFor(nested, runscAvailable bool) string {
	if nested {
		return "sysbox-runc"
	}
	if runscAvailable {
		return "runsc"
	}
	return ""
}

// runscAvailable checks if gVisor (runsc) is available, using a cached
// result. The result is cached permanently for this runtime instance, which
// is acceptable because a runtime lives for a single run.
func (r *Runtime) runscAvailable() bool {
	r.runscOnce.Do(func() {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		info, err := r.cli.Info(checkCtx)
		if err != nil {
			log.Warn("gVisor availability check failed, using engine default runtime", "error", err)
			return
		}
		for name := range info.Runtimes {
			if name == "runsc" {
				r.runscAvail = true
				return
			}
		}
	})
	return r.runscAvail
}

func envStrings(env []EnvVar) []string {
	out := make([]string, len(env))
	for i, e := range env {
		out[i] = e.Name + "=" + e.Value
	}
	return out
}
