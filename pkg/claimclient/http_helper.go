package claimclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sigweihq/dotclaim/pkg/constants"
)

// httpRequest sends a JSON request and decodes a JSON response into result
func httpRequest(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limitedReader)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       bodyBytes,
		}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(limitedReader).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// HTTPError represents an HTTP error with status code and response body
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if len(e.Body) > 0 {
		var errResp errorBody
		if err := json.Unmarshal(e.Body, &errResp); err == nil {
			if errResp.Details != "" {
				return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, errResp.Error, errResp.Details)
			}
			if errResp.Error != "" {
				return fmt.Sprintf("HTTP %d: %s", e.StatusCode, errResp.Error)
			}
		}
		return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, e.Status, string(e.Body))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Kind returns the failure classification reported by the agent, if any
func (e *HTTPError) Kind() string {
	var errResp errorBody
	if err := json.Unmarshal(e.Body, &errResp); err != nil {
		return ""
	}
	return errResp.Details
}

// IsNotFound returns true for an unknown session
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true when the session is busy, already submitted or stale
func (e *HTTPError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsPreconditionFailed returns true when the session is not ready for the step
func (e *HTTPError) IsPreconditionFailed() bool {
	return e.StatusCode == http.StatusPreconditionFailed
}

// IsRateLimited returns true for a 429 response
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
