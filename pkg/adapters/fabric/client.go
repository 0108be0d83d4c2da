// Package fabric implements the resource adapters for Microsoft Fabric:
// workspaces, lakehouses, eventhouses, table loads, KQL ingestion and graph
// model items. All adapters share one REST client authenticated through an
// Azure credential chain.
package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

const (
	defaultBaseURL = "https://api.fabric.microsoft.com/v1"
	defaultScope   = "https://api.fabric.microsoft.com/.default"
)

// ClientConfig configures the Fabric REST client.
type ClientConfig struct {
	// BaseURL overrides the Fabric API endpoint, used in tests.
	BaseURL string

	// Scope is the OAuth scope requested for API tokens.
	Scope string

	// Credential is the Azure token source. When nil, NewClient builds one
	// from TenantID/ClientID/ClientSecret, falling back to the default
	// credential chain (managed identity, CLI, environment).
	Credential azcore.TokenCredential

	TenantID     string
	ClientID     string
	ClientSecret string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Client is the shared Fabric REST client.
type Client struct {
	http    *http.Client
	baseURL string
	scope   string
	cred    azcore.TokenCredential
	logger  *telemetry.Logger
}

// NewClient builds a Fabric client. Authentication prefers an explicit
// service principal and falls back to the default credential chain.
func NewClient(cfg ClientConfig, logger *telemetry.Logger) (*Client, error) {
	if logger == nil {
		logger = telemetry.NewTestLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	cred := cfg.Credential
	if cred == nil {
		var err error
		if cfg.ClientSecret != "" {
			cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
			if err != nil {
				return nil, fmt.Errorf("create client secret credential: %w", err)
			}
		} else {
			cred, err = azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("create default credential: %w", err)
			}
		}
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		scope:   cfg.Scope,
		cred:    cred,
		logger:  logger.WithComponent("fabric-client"),
	}, nil
}

// Credential exposes the token source so sibling clients (OneLake blob
// upload) can share the same identity.
func (c *Client) Credential() azcore.TokenCredential {
	return c.cred
}

// apiError is a Fabric API failure with its HTTP status.
type apiError struct {
	Status  int
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("fabric api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("fabric api: status %d: %s", e.Status, e.Message)
}

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON body and decodes the response.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{c.scope}})
	if err != nil {
		return adapters.MarkTransient(fmt.Errorf("acquire token: %w", err))
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return adapters.MarkTransient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return adapters.MarkTransient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode, Message: string(data)}
		_ = json.Unmarshal(data, apiErr)
		if retryableStatus(resp.StatusCode) {
			return adapters.MarkTransient(apiErr)
		}
		return apiErr
	}

	// Long-running creates return 202 with no usable body; callers discover
	// the item identifier through a follow-up list.
	if out != nil && len(data) > 0 && resp.StatusCode != http.StatusAccepted {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// retryableStatus reports whether the HTTP status indicates a condition
// worth retrying: throttling, timeouts, upstream unavailability.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// item is the generic Fabric workspace item shape.
type item struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type itemList struct {
	Value []item `json:"value"`
}

// findItem lists workspace items of a type and returns the one with the
// given display name.
func (c *Client) findItem(ctx context.Context, workspaceID, itemType, displayName string) (*item, error) {
	var list itemList
	path := fmt.Sprintf("/workspaces/%s/items?type=%s", workspaceID, itemType)
	if err := c.Get(ctx, path, &list); err != nil {
		return nil, err
	}
	for i := range list.Value {
		if list.Value[i].DisplayName == displayName {
			return &list.Value[i], nil
		}
	}
	return nil, nil
}

// createItem creates a workspace item and resolves its identifier, looking
// it up again when the create was accepted asynchronously.
func (c *Client) createItem(ctx context.Context, workspaceID, itemType, displayName string, payload map[string]any) (string, error) {
	body := map[string]any{
		"displayName": displayName,
		"type":        itemType,
	}
	for k, v := range payload {
		body[k] = v
	}

	var created item
	path := fmt.Sprintf("/workspaces/%s/items", workspaceID)
	if err := c.Post(ctx, path, body, &created); err != nil {
		return "", err
	}
	if created.ID != "" {
		return created.ID, nil
	}

	found, err := c.findItem(ctx, workspaceID, itemType, displayName)
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", adapters.Transientf("%s %q not yet visible after create", itemType, displayName)
	}
	return found.ID, nil
}
