package api

import (
	"fmt"
	"net/http"
	"net/http/cgi"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitHandler serves the run's repository over smart HTTP by delegating to
// git's own http-backend CGI. The agent clones from here and pushes the
// fork branch back through the same URL.
func gitHandler(repoPath string) (http.Handler, error) {
	out, err := exec.Command("git", "--exec-path").Output()
	if err != nil {
		return nil, fmt.Errorf("locating git exec path: %w", err)
	}
	backend := filepath.Join(strings.TrimSpace(string(out)), "git-http-backend")

	h := &cgi.Handler{
		Path: backend,
		Env:  gitBackendEnv(repoPath),
	}
	return http.StripPrefix("/api/agent/git", h), nil
}

// gitBackendEnv configures http-backend to export the single repository and
// accept pushes without per-repo configuration.
func gitBackendEnv(repoPath string) []string {
	return []string{
		"GIT_PROJECT_ROOT=" + repoPath,
		"GIT_HTTP_EXPORT_ALL=1",
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.receivepack",
		"GIT_CONFIG_VALUE_0=true",
		"REMOTE_USER=minion",
	}
}
