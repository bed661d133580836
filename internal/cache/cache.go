// Package cache notifies the read side that records changed
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPInvalidator posts changed record URIs to an invalidation endpoint
type HTTPInvalidator struct {
	url        string
	httpClient *http.Client
}

// NewHTTPInvalidator creates a new HTTP invalidator
func NewHTTPInvalidator(url string) *HTTPInvalidator {
	return &HTTPInvalidator{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type invalidateRequest struct {
	URIs []string `json:"uris"`
}

// OnRecordsChanged sends uris to the invalidation endpoint
func (h *HTTPInvalidator) OnRecordsChanged(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	body, err := json.Marshal(invalidateRequest{URIs: uris})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invalidate %d uris: %w", len(uris), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("invalidate %d uris: %s", len(uris), resp.Status)
	}
	return nil
}

// Noop drops every invalidation
type Noop struct{}

// OnRecordsChanged does nothing
func (Noop) OnRecordsChanged(context.Context, []string) error {
	return nil
}
