// Package rest is the typed client for the portal's chat REST surface.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// Client calls the chat REST endpoints with the session's bearer credential.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client. The token may be empty; the backend then
// rejects each call with 401, which surfaces as an HTTPError.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login exchanges portal credentials for a bearer token. It needs no session,
// so it is a package-level call rather than a Client method.
func Login(ctx context.Context, baseURL, username, password string) (string, error) {
	body := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: username, Password: password}

	var resp struct {
		Token string `json:"token"`
	}
	c := New(baseURL, "")
	if err := c.doRequest(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return "", fmt.Errorf("rest.Login: %w", err)
	}
	return resp.Token, nil
}

// ListChannels fetches the channel catalog the backend discloses to this session.
func (c *Client) ListChannels(ctx context.Context) ([]proto.Channel, error) {
	var channels []proto.Channel
	if err := c.get(ctx, "/chat/channels", &channels); err != nil {
		return nil, fmt.Errorf("rest.ListChannels: %w", err)
	}
	return channels, nil
}

// ChannelMessages fetches a recent message page for a channel.
func (c *Client) ChannelMessages(ctx context.Context, channelID string, limit, skip int) ([]proto.Message, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("skip", strconv.Itoa(skip))

	var msgs []proto.Message
	path := "/chat/channels/" + url.PathEscape(channelID) + "/messages?" + params.Encode()
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, fmt.Errorf("rest.ChannelMessages: %w", err)
	}
	return msgs, nil
}

// CreateChannelRequest is the payload for creating a channel.
type CreateChannelRequest struct {
	Name      string            `json:"name"`
	Kind      proto.ChannelKind `json:"type"`
	MemberIDs []string          `json:"member_ids,omitempty"`
}

// CreateChannel creates a channel and returns the authoritative server object.
func (c *Client) CreateChannel(ctx context.Context, req CreateChannelRequest) (*proto.Channel, error) {
	var created proto.Channel
	if err := c.doRequest(ctx, http.MethodPost, "/chat/channels", req, &created); err != nil {
		return nil, fmt.Errorf("rest.CreateChannel: %w", err)
	}
	return &created, nil
}

// UpdateChannelRequest patches a channel's name and/or membership.
type UpdateChannelRequest struct {
	Name      *string  `json:"name,omitempty"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// UpdateChannel applies a patch and returns the updated server object.
func (c *Client) UpdateChannel(ctx context.Context, id string, req UpdateChannelRequest) (*proto.Channel, error) {
	var updated proto.Channel
	if err := c.doRequest(ctx, http.MethodPut, "/chat/channels/"+url.PathEscape(id), req, &updated); err != nil {
		return nil, fmt.Errorf("rest.UpdateChannel: %w", err)
	}
	return &updated, nil
}

// DeleteChannel removes a channel.
func (c *Client) DeleteChannel(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/chat/channels/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("rest.DeleteChannel: %w", err)
	}
	return nil
}

// ListEmployees returns the directory of addressable users for private chats.
func (c *Client) ListEmployees(ctx context.Context) ([]proto.Employee, error) {
	var employees []proto.Employee
	if err := c.get(ctx, "/chat/employees", &employees); err != nil {
		return nil, fmt.Errorf("rest.ListEmployees: %w", err)
	}
	return employees, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
