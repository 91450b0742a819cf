package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

var classifyOllamaError = resilience.HTTPClassifier(resilience.TransientStatus)

// call runs postJSON through the resilience executor when one is configured.
func (c *Client) call(ctx context.Context, path string, payload any, out any, operation string) error {
	if c.executor == nil {
		return resilience.WrapTemporary("ollama "+operation, c.postJSON(ctx, path, payload, out, operation), classifyOllamaError)
	}
	err := c.executor.Execute(ctx, "ollama."+operation, func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, payload, out, operation)
	}, classifyOllamaError)
	return resilience.WrapTemporary("ollama "+operation, err, classifyOllamaError)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("ollama", operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
