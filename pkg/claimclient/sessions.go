package claimclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sigweihq/dotclaim/pkg/types"
)

// SessionClient handles claim sessions on the agent
type SessionClient struct {
	baseURL    string
	httpClient *http.Client
}

func newSessionClient(baseURL string, httpClient *http.Client) *SessionClient {
	return &SessionClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (c *SessionClient) url(id, action string) string {
	u := fmt.Sprintf("%s/api/v1/sessions/%s", c.baseURL, url.PathEscape(id))
	if action != "" {
		u += "/" + action
	}
	return u
}

func (c *SessionClient) do(ctx context.Context, method, url string, body any) (*types.Snapshot, error) {
	var result types.Snapshot
	if err := httpRequest(ctx, c.httpClient, method, url, body, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Create opens a new disconnected session
// POST /api/v1/sessions
func (c *SessionClient) Create(ctx context.Context) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/sessions", c.baseURL), nil)
}

// Get returns the current snapshot of a session
// GET /api/v1/sessions/{id}
func (c *SessionClient) Get(ctx context.Context, id string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodGet, c.url(id, ""), nil)
}

// Delete closes a session
// DELETE /api/v1/sessions/{id}
func (c *SessionClient) Delete(ctx context.Context, id string) error {
	return httpRequest(ctx, c.httpClient, http.MethodDelete, c.url(id, ""), nil, nil, nil)
}

// Connect asks the agent's wallet for account access
// POST /api/v1/sessions/{id}/connect
func (c *SessionClient) Connect(ctx context.Context, id string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPost, c.url(id, "connect"), nil)
}

// SetDestination sets the address claimed tokens go to
// PUT /api/v1/sessions/{id}/destination
func (c *SessionClient) SetDestination(ctx context.Context, id, address string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPut, c.url(id, "destination"), types.DestinationRequest{Address: address})
}

// Check reads the claim record of the connected account
// POST /api/v1/sessions/{id}/check
func (c *SessionClient) Check(ctx context.Context, id string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPost, c.url(id, "check"), nil)
}

// Submit signs the destination and submits the claim
// POST /api/v1/sessions/{id}/submit
func (c *SessionClient) Submit(ctx context.Context, id string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPost, c.url(id, "submit"), nil)
}

// WaitFinalized blocks until the submitted claim is finalized
// POST /api/v1/sessions/{id}/finality
func (c *SessionClient) WaitFinalized(ctx context.Context, id string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPost, c.url(id, "finality"), nil)
}

// Reset clears the session back to connected
// POST /api/v1/sessions/{id}/reset
func (c *SessionClient) Reset(ctx context.Context, id string) (*types.Snapshot, error) {
	return c.do(ctx, http.MethodPost, c.url(id, "reset"), nil)
}
