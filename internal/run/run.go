// Package run coordinates a single agent run: fork a branch, start the
// control-plane server and inquiry relay, run the agent container, and
// merge or abort based on the reported outcome.
package run

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/autominion/minion/internal/api"
	"github.com/autominion/minion/internal/audit"
	"github.com/autominion/minion/internal/config"
	"github.com/autominion/minion/internal/container"
	"github.com/autominion/minion/internal/gitrepo"
	"github.com/autominion/minion/internal/id"
	"github.com/autominion/minion/internal/inquiry"
	"github.com/autominion/minion/internal/llm"
	"github.com/autominion/minion/internal/log"
	"github.com/autominion/minion/internal/relay"
	"github.com/autominion/minion/internal/ui"
)

// State represents the coordinator's position in a run.
type State string

const (
	StateInit            State = "init"
	StateBranchForked    State = "branch-forked"
	StateServicesStarted State = "services-started"
	StateAwaitingOutcome State = "awaiting-outcome"
	StateMerging         State = "merging"
	StateAborting        State = "aborting"
	StateDone            State = "done"
)

const (
	defaultImage = "ghcr.io/autominion/default-minion:x86-64-latest"

	gitUserName  = "minion[bot]"
	gitUserEmail = "minion@localhost"

	// Fixed alias the engine maps to the host gateway.
	containerHostAlias = "host.docker.internal"
)

// Options configures a run.
type Options struct {
	RepoPath string
	Task     string
	// Image to run; empty selects the default agent image.
	Image string
	// BuildContext is a directory with a Dockerfile; when set the image is
	// built instead of pulled.
	BuildContext string
	// Nested enables running containers inside the agent container.
	Nested bool
}

// Result reports what a finished run produced.
type Result struct {
	ID      string
	Outcome api.Outcome
	Fork    string
	// Merged is true when the fork's changes were applied to the base
	// branch's working tree.
	Merged bool
	// MergeErr holds a merge failure. The run itself is still considered
	// successful; the fork branch retains the agent's work.
	MergeErr error
}

// Coordinator drives the run state machine, one pass per run.
type Coordinator struct {
	opts  Options
	state State
}

// New creates a coordinator for one run.
func New(opts Options) *Coordinator {
	return &Coordinator{opts: opts, state: StateInit}
}

func (c *Coordinator) setState(s State) {
	log.Debug("run state transition", "from", string(c.state), "to", string(s))
	c.state = s
}

// Execute performs the run from fork to merge. Config, engine, and git
// failures before services start are fatal; a merge failure is reported in
// the Result instead.
func (c *Coordinator) Execute(ctx context.Context) (*Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	table, err := cfg.RouterTable()
	if err != nil {
		return nil, err
	}

	// Fork a branch off the current HEAD before anything else can fail
	// mid-flight.
	base, err := gitrepo.CurrentBranch(c.opts.RepoPath)
	if err != nil {
		return nil, err
	}
	fork, err := id.ForkBranch()
	if err != nil {
		return nil, err
	}
	if err := gitrepo.CreateBranch(c.opts.RepoPath, fork); err != nil {
		return nil, err
	}
	c.setState(StateBranchForked)

	rt, err := container.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	host, err := rt.HostAddress(ctx)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("allocating listener on %s: %w", host, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	token, err := id.Token()
	if err != nil {
		return nil, err
	}
	runID := id.Generate("run")
	log.SetRunID(runID)
	result := &Result{ID: runID, Fork: fork}

	image, err := c.resolveImage(ctx, rt, runID)
	if err != nil {
		return nil, err
	}

	recorder, closeRecorder := openRecorder(runID)
	defer closeRecorder()

	broker := inquiry.NewBroker()
	srv := api.NewServer(api.RunContext{
		TaskDescription: c.opts.Task,
		GitUserName:     gitUserName,
		GitUserEmail:    gitUserEmail,
		GitRepoURL:      agentGitURL(token, port),
		GitBranch:       fork,
		RepoPath:        c.opts.RepoPath,
		Router:          table,
		Token:           token,
	}, broker, recorder)
	srv.Start(listener)

	stop := make(chan struct{})
	var relayDone sync.WaitGroup
	relayDone.Add(1)
	go func() {
		defer relayDone.Done()
		relay.New(hostBaseURL(host, port), token).Run(stop)
	}()

	shutdown := func() {
		close(stop)
		relayDone.Wait()
		broker.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			log.Warn("stopping control-plane server", "error", err)
		}
	}

	if err := waitForReady(ctx, hostBaseURL(host, port)+"/ready"); err != nil {
		shutdown()
		return nil, err
	}
	c.setState(StateServicesStarted)

	containerDone := make(chan error, 1)
	go func() {
		containerDone <- rt.Run(ctx, container.Spec{
			Image:  image,
			Env:    agentEnv(token, port),
			Nested: c.opts.Nested,
		})
	}()
	c.setState(StateAwaitingOutcome)

	// First decisive result wins: an outcome from the server, or the
	// container finishing without ever producing one.
	var outcome *api.Outcome
	select {
	case o := <-srv.Outcome():
		outcome = &o
		// Let the container wind down naturally; its exit status is no
		// longer authoritative.
		if err := <-containerDone; err != nil {
			log.Warn("agent container exit after outcome", "error", err)
		}
	case err := <-containerDone:
		shutdown()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("agent container exited without reporting an outcome")
	}
	result.Outcome = *outcome
	shutdown()

	if outcome.Status == api.OutcomeCompleted {
		c.setState(StateMerging)
		if err := gitrepo.SquashMerge(c.opts.RepoPath, base, fork); err != nil {
			result.MergeErr = err
		} else {
			result.Merged = true
		}
	} else {
		c.setState(StateAborting)
	}

	c.setState(StateDone)
	return result, nil
}

// resolveImage builds the image when a build context is given, pulls it
// otherwise.
func (c *Coordinator) resolveImage(ctx context.Context, rt *container.Runtime, runID string) (string, error) {
	if c.opts.BuildContext != "" {
		tag := "minion/agent:" + runID
		if err := rt.BuildImage(ctx, c.opts.BuildContext, tag); err != nil {
			return "", err
		}
		return tag, nil
	}
	image := c.opts.Image
	if image == "" {
		image = defaultImage
	}
	if err := rt.EnsureImage(ctx, image); err != nil {
		return "", err
	}
	return image, nil
}

// openRecorder opens the per-run LLM audit store. Recording is best-effort;
// a store that cannot be opened downgrades to no recording.
func openRecorder(runID string) (llm.Recorder, func()) {
	dir := filepath.Join(config.RunsDir(), runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warn("creating run directory, LLM recording disabled", "error", err)
		return nil, func() {}
	}
	store, err := audit.OpenStore(filepath.Join(dir, "llm.db"))
	if err != nil {
		log.Warn("opening audit store, LLM recording disabled", "error", err)
		return nil, func() {}
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn("closing audit store", "error", err)
		}
	}
}

// agentEnv is the environment handed to the agent container. Order is
// stable so container creation is deterministic.
func agentEnv(token string, port int) []container.EnvVar {
	return []container.EnvVar{
		{Name: "MINION_API_BASE_URL", Value: agentBaseURL(port)},
		{Name: "MINION_API_TOKEN", Value: token},
	}
}

// agentBaseURL is the control-plane base URL as seen from inside the
// container.
func agentBaseURL(port int) string {
	return "http://" + containerHostAlias + ":" + strconv.Itoa(port) + "/api/"
}

// agentGitURL is the clone URL handed to the agent, with the run credential
// embedded for git's Basic auth.
func agentGitURL(token string, port int) string {
	return "http://minion:" + token + "@" + containerHostAlias + ":" + strconv.Itoa(port) + "/api/agent/git"
}

// hostBaseURL is the control-plane base URL as seen from the host itself.
func hostBaseURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Report prints the run's result for the user.
func (r *Result) Report() {
	switch {
	case r.Merged:
		ui.Infof("%s Task completed: %s", ui.OKTag(), r.Outcome.Description)
		ui.Infof("The agent's changes are unstaged in your working tree (fork branch %s).", r.Fork)
	case r.MergeErr != nil:
		ui.Infof("%s Task completed: %s", ui.OKTag(), r.Outcome.Description)
		ui.Warnf("could not apply changes to your branch: %v", r.MergeErr)
		ui.Infof("The agent's work is preserved on branch %s.", r.Fork)
	default:
		ui.Infof("%s Task failed: %s", ui.FailTag(), r.Outcome.Description)
	}
}
