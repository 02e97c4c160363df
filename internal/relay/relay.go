// Package relay forwards agent inquiries to the human at the terminal.
//
// While a run is active the relay polls the control-plane server for a
// pending inquiry. When one appears it prints the question, blocks on a
// line of input, and posts the answer back so the agent can continue.
package relay

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/autominion/minion/internal/log"
	"github.com/autominion/minion/internal/ui"
)

const pollInterval = 1 * time.Second

// Relay polls a control-plane server for agent inquiries and answers them
// interactively.
type Relay struct {
	baseURL string
	token   string
	client  *http.Client

	// Overridable for tests.
	in    *bufio.Reader
	out   io.Writer
	width func() int
}

// New returns a relay for the server at baseURL, authenticating with token.
func New(baseURL, token string) *Relay {
	return &Relay{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stderr,
		width:   ui.Width,
	}
}

// Run polls until stop is closed. Transient errors are logged and polling
// continues; a run is never torn down because the relay hiccuped.
func (r *Relay) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		question, err := r.fetchInquiry()
		if err != nil {
			log.Warn("polling for inquiry", "error", err)
			continue
		}
		if question == "" {
			continue
		}

		answer, err := r.prompt(question)
		if err != nil {
			log.Warn("reading inquiry answer", "error", err)
			continue
		}
		if err := r.postAnswer(answer); err != nil {
			log.Warn("sending inquiry answer", "error", err)
		}
	}
}

// fetchInquiry returns the pending question, or "" when there is none.
func (r *Relay) fetchInquiry() (string, error) {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+"/api/agent/inquiry_request", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// prompt shows the question and blocks until the human answers with a line
// of input.
func (r *Relay) prompt(question string) (string, error) {
	fmt.Fprintln(r.out)
	ui.Banner(r.out, "Agent inquiry", r.width())
	fmt.Fprintln(r.out, question)
	fmt.Fprint(r.out, "> ")

	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *Relay) postAnswer(answer string) error {
	req, err := http.NewRequest(http.MethodPost, r.baseURL+"/api/agent/inquiry_response", strings.NewReader(answer))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
