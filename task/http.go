package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPDispatcher delivers tasks as push requests to the worker endpoints
// (POST <base>/api/v1/workers/<stage>), the way a hosted push queue would.
type HTTPDispatcher struct {
	baseURL string
	authKey string
	client  *http.Client
}

func NewHTTPDispatcher(baseURL, authKey string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		authKey: authKey,
		client:  &http.Client{}, // the task context carries the deadline
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, t *Task) error {
	body, err := json.Marshal(map[string]string{"job_id": t.JobID})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/v1/workers/%s", d.baseURL, t.Stage)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", t.ID)
	if d.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.authKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push to %s failed, status: %s: %s", url, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
