package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sendTimeout bounds one outbound delivery attempt. Settlement outcomes are
// not latency-sensitive, but a stuck webhook must not pin a queue worker.
const sendTimeout = 10 * time.Second

// newSenderClient returns the HTTP client shared by the webhook senders.
func newSenderClient() *http.Client {
	return &http.Client{Timeout: sendTimeout}
}

// postJSON sends a JSON payload and fails on any non-2xx status, including a
// truncated copy of the response body in the error.
func postJSON(ctx context.Context, client *http.Client, label, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", label, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", label, resp.StatusCode, string(respBody))
	}
	return nil
}
