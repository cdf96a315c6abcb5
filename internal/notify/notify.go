// Package notify posts operator alerts to an NTFY-style endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SendStartupFailure reports that the agent could not reach a working state,
// naming the component that failed.
func SendStartupFailure(ctx context.Context, client *http.Client, endpoint, component string, cause error) error {
	msg := fmt.Sprintf("isolator startup failed: %s: %v", component, cause)
	return Send(ctx, client, endpoint, msg)
}

// Send posts a plain-text message to the endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return nil
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
