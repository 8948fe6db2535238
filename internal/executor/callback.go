package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cronfire/internal/models"
)

// CallbackExecutor issues an outbound HTTP request to the payload's target.
// Any non-2xx status is a failure.
type CallbackExecutor struct {
	client      *http.Client
	tokenHeader string
	token       string
}

// NewCallbackExecutor builds the executor. tokenHeader and token are only
// attached when both are non-empty, mirroring the optional shared-secret
// authentication on the administrative surface.
func NewCallbackExecutor(timeout time.Duration, tokenHeader, token string) *CallbackExecutor {
	return &CallbackExecutor{
		client:      &http.Client{Timeout: timeout},
		tokenHeader: tokenHeader,
		token:       token,
	}
}

func (e *CallbackExecutor) Kind() models.JobKind {
	return models.KindCallback
}

func (e *CallbackExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p models.CallbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode callback payload: %w", err)
	}

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if e.tokenHeader != "" && e.token != "" {
		req.Header.Set(e.tokenHeader, e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback target returned %d", resp.StatusCode)
	}
	return nil
}
