package run

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const readinessTimeout = 30 * time.Second
const readinessInterval = 1 * time.Second

// waitForReady polls the server's readiness probe until it answers or the
// bounded retry window runs out.
func waitForReady(ctx context.Context, url string) error {
	return waitForReadyWith(ctx, url, readinessTimeout, readinessInterval)
}

func waitForReadyWith(ctx context.Context, url string, timeout, interval time.Duration) error {
	client := &http.Client{Timeout: interval}
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		if err := probe(ctx, client, url); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("server not ready after %s: %w", timeout, lastErr)
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
