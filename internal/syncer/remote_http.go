package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRemote posts payloads to a central endpoint. The endpoint answers 409
// for an invoice number it already holds, which counts as success.
type HTTPRemote struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPRemote(url, apiKey string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRemote{url: url, apiKey: apiKey, client: client}
}

func (r *HTTPRemote) Push(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload %s: %w", p.InvoiceNumber, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.InvoiceNumber)
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", p.InvoiceNumber, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote rejected %s: status %d: %s", p.InvoiceNumber, resp.StatusCode, bytes.TrimSpace(msg))
}
