package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultDispatchTimeout bounds one action call.
const DefaultDispatchTimeout = 30 * time.Second

// HTTPDispatcher forwards approved actions to the module that owns them:
// POST {baseURL}/{module.action} with {"action": ..., "args": ...}.
type HTTPDispatcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDispatcher creates a dispatcher for baseURL.
func NewHTTPDispatcher(baseURL string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultDispatchTimeout},
	}
}

// RegisterAll binds every allow-listed action to the dispatcher.
func (d *HTTPDispatcher) RegisterAll(reg *Registry) {
	for _, key := range AllowedActions() {
		reg.Register(string(key), d.Action(key))
	}
}

// Action returns the ActionFunc for key.
func (d *HTTPDispatcher) Action(key ActionKey) ActionFunc {
	return func(ctx context.Context, args map[string]any) error {
		body, err := json.Marshal(map[string]any{"action": string(key), "args": args})
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", key, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/"+string(key), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", key, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", key, err)
		}
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("dispatch %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(detail)))
		}
		return nil
	}
}
