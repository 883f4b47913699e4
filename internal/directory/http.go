package directory

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/shared/config"
)

// membersResponse is the directory payload for role and group lookups
type membersResponse struct {
	UserIDs []string `json:"user_ids"`
}

// HTTPClient resolves roles and groups against the identity directory service
type HTTPClient struct {
	client *resty.Client
	log    *zap.SugaredLogger
}

// NewHTTPClient creates a directory client with timeout and retries
func NewHTTPClient(cfg config.DirectoryConfig, log *zap.SugaredLogger) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPClient{client: client, log: log}
}

// ResolveRole returns the users holding role in a hostel. An empty hostel id
// asks for holders across all hostels.
func (c *HTTPClient) ResolveRole(ctx context.Context, hostelID, role string) ([]string, error) {
	if hostelID == "" {
		return c.members(ctx, "/roles/{name}/members", map[string]string{"name": role})
	}
	return c.members(ctx, "/hostels/{hostel}/roles/{name}/members", map[string]string{"hostel": hostelID, "name": role})
}

// ResolveGroup returns the members of a group
func (c *HTTPClient) ResolveGroup(ctx context.Context, hostelID, group string) ([]string, error) {
	return c.members(ctx, "/groups/{name}/members", map[string]string{"name": group})
}

func (c *HTTPClient) members(ctx context.Context, path string, params map[string]string) ([]string, error) {
	var out membersResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		// unknown roles and groups have no members
		c.log.Debugw("directory lookup found nothing", "path", path, "params", params)
		return nil, nil
	case resp.IsError():
		return nil, fmt.Errorf("directory returned %d for %s", resp.StatusCode(), path)
	}
	return out.UserIDs, nil
}
