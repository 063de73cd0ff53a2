package claimclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sigweihq/dotclaim/pkg/types"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

// DefaultURL is where a locally started agent listens
const DefaultURL = "http://127.0.0.1:8480"

// Client talks to a running claim agent
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Sessions drives the claim flow of individual sessions
	// Endpoints: /api/v1/sessions/...
	Sessions *SessionClient
}

// New creates a client for the agent at baseURL. A nil httpClient gets bounded timeouts.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if err := utils.ValidateServiceURL(baseURL); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		Sessions:   newSessionClient(baseURL, httpClient),
	}, nil
}

// URL returns the agent base URL
func (c *Client) URL() string {
	return c.baseURL
}

// Status reports the agent's ledger connection and signing scheme
// GET /api/v1/status
func (c *Client) Status(ctx context.Context) (*types.StatusResponse, error) {
	var result types.StatusResponse
	if err := httpRequest(ctx, c.httpClient, http.MethodGet, fmt.Sprintf("%s/api/v1/status", c.baseURL), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
