// Package editor opens the user's editor to compose a task description.
package editor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const defaultEditor = "vi"

const taskTemplate = `
# Describe the task for the agent above this line.
# Lines starting with '#' are ignored. An empty description aborts the run.
`

// ComposeTask opens $EDITOR on a temp file and returns the entered task
// description with comment lines stripped.
func ComposeTask() (string, error) {
	f, err := os.CreateTemp("", "minion-task-*.md")
	if err != nil {
		return "", fmt.Errorf("creating task file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(taskTemplate); err != nil {
		f.Close()
		return "", fmt.Errorf("writing task template: %w", err)
	}
	f.Close()

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = defaultEditor
	}
	// $EDITOR may carry arguments ("code --wait").
	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running editor %s: %w", parts[0], err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading task file: %w", err)
	}
	return StripComments(string(content)), nil
}

// StripComments removes '#' comment lines and surrounding whitespace.
func StripComments(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
