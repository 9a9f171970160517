package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
)

// Client provides read access to the chat backend's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:4000/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the access token sent as a bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Organisation endpoints

// GetOrganisation returns the organisation snapshot: profile, channels and conversations.
func (c *Client) GetOrganisation(ctx context.Context, id string) (*model.Organisation, error) {
	var resp model.Organisation
	if err := c.get(ctx, "/organisation/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkspaces returns the organisations the user belongs to.
func (c *Client) ListWorkspaces(ctx context.Context) ([]model.Organisation, error) {
	var resp []model.Organisation
	if err := c.get(ctx, "/organisation/workspaces", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Channel and conversation endpoints

// GetChannel returns a channel with its collaborators.
func (c *Client) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	var resp model.Channel
	if err := c.get(ctx, "/channel/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConversation returns a direct conversation with its collaborators.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var resp model.Conversation
	if err := c.get(ctx, "/conversations/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message endpoints

// ListChannelMessages returns the message history of a channel.
func (c *Client) ListChannelMessages(ctx context.Context, organisationID, channelID string) ([]model.Message, error) {
	q := url.Values{}
	q.Set("channelId", channelID)
	q.Set("organisation", organisationID)
	return c.listMessages(ctx, q)
}

// ListConversationMessages returns the message history of a conversation.
func (c *Client) ListConversationMessages(ctx context.Context, organisationID, conversationID string) ([]model.Message, error) {
	q := url.Values{}
	q.Set("conversation", conversationID)
	q.Set("organisation", organisationID)
	return c.listMessages(ctx, q)
}

// GetMessage returns a single message, used as the root of a thread.
func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var resp model.Message
	if err := c.get(ctx, "/messages/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListThreads returns the replies of the thread rooted at messageID.
func (c *Client) ListThreads(ctx context.Context, messageID string) ([]model.Thread, error) {
	q := url.Values{}
	q.Set("message", messageID)
	var resp []model.Thread
	if err := c.get(ctx, "/threads", q, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) listMessages(ctx context.Context, q url.Values) ([]model.Message, error) {
	var resp []model.Message
	if err := c.get(ctx, "/messages", q, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Helper methods

func (c *Client) get(ctx context.Context, path string, query url.Values, dest any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Path: req.URL.Path}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Text() != "" {
			apiErr.Message = errResp.Text()
		} else {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	if dest == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}
