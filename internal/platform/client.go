// Package platform implements the outbound client for the external platform
// that owns the real role membership. The engine never calls it while
// holding a store transaction; every call carries the client's bounded
// timeout independent of any database deadline.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"roleledger/internal/domain"
)

var _ domain.PlatformClient = (*Client)(nil)

// Client talks to the platform's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a platform client. timeout bounds every call; 0 defaults to
// 10 seconds.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) roleURL(community, account, role string) string {
	return fmt.Sprintf("%s/communities/%s/members/%s/roles/%s",
		c.baseURL, url.PathEscape(community), url.PathEscape(account), url.PathEscape(role))
}

// AddRole grants the role on the real account.
func (c *Client) AddRole(ctx context.Context, community, account, role string) error {
	return c.do(ctx, http.MethodPut, c.roleURL(community, account, role), nil, nil)
}

// RemoveRole revokes the role on the real account.
func (c *Client) RemoveRole(ctx context.Context, community, account, role string) error {
	return c.do(ctx, http.MethodDelete, c.roleURL(community, account, role), nil, nil)
}

// MemberRoles returns the roles the account currently holds.
func (c *Client) MemberRoles(ctx context.Context, community, account string) ([]string, error) {
	var member struct {
		Roles []string `json:"roles"`
	}
	u := fmt.Sprintf("%s/communities/%s/members/%s",
		c.baseURL, url.PathEscape(community), url.PathEscape(account))
	if err := c.do(ctx, http.MethodGet, u, nil, &member); err != nil {
		return nil, err
	}
	return member.Roles, nil
}

// CommunityExists reports whether the community still exists on the
// platform. A 404 is a negative answer, not an error.
func (c *Client) CommunityExists(ctx context.Context, community string) (bool, error) {
	u := fmt.Sprintf("%s/communities/%s", c.baseURL, url.PathEscape(community))
	return c.exists(ctx, u)
}

// MemberExists reports whether the account is still a member.
func (c *Client) MemberExists(ctx context.Context, community, account string) (bool, error) {
	u := fmt.Sprintf("%s/communities/%s/members/%s",
		c.baseURL, url.PathEscape(community), url.PathEscape(account))
	return c.exists(ctx, u)
}

// RoleExists reports whether the role still exists in the community.
func (c *Client) RoleExists(ctx context.Context, community, role string) (bool, error) {
	u := fmt.Sprintf("%s/communities/%s/roles/%s",
		c.baseURL, url.PathEscape(community), url.PathEscape(role))
	return c.exists(ctx, u)
}

// Notify sends a private message to the account.
func (c *Client) Notify(ctx context.Context, community, account, message string) error {
	u := fmt.Sprintf("%s/communities/%s/members/%s/messages",
		c.baseURL, url.PathEscape(community), url.PathEscape(account))
	body := map[string]string{"content": message}
	return c.do(ctx, http.MethodPost, u, body, nil)
}

func (c *Client) exists(ctx context.Context, u string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("platform returned %s", resp.Status)
	}
}

func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("platform returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
