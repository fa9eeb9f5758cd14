// Package client talks to the huddle API: queries, mutations, the live
// message stream and attachment uploads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"huddle/api/internal/feed"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type Member struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	User        User      `json:"user"`
}

// NewMessage is the messages.create request. Exactly one of ChannelID or
// ConversationID is set, or neither when ParentMessageID is.
type NewMessage struct {
	Body            string `json:"body"`
	Image           string `json:"image,omitempty"`
	WorkspaceID     string `json:"workspaceId"`
	ChannelID       string `json:"channelId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

type UploadTarget struct {
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; streams live until cancelled.
	streamClient *http.Client
}

// New builds a client for baseURL. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		baseURL:      normalized,
		token:        token,
		httpClient:   httpClient,
		streamClient: &http.Client{Transport: httpClient.Transport},
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("api url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// Members

// CurrentMember returns nil when the caller is signed out or not a member.
func (c *Client) CurrentMember(ctx context.Context, workspaceID string) (*Member, error) {
	var resp struct {
		Member *Member `json:"member"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/members/current", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Member, nil
}

// Members returns the roster, or an empty list under the same conditions as
// CurrentMember.
func (c *Client) Members(ctx context.Context, workspaceID string) ([]Member, error) {
	var resp struct {
		Members []Member `json:"members"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/members", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Members == nil {
		resp.Members = []Member{}
	}
	return resp.Members, nil
}

func (c *Client) Member(ctx context.Context, memberID string) (Member, error) {
	var member Member
	if err := c.doJSON(ctx, http.MethodGet, "/api/members/"+url.PathEscape(memberID), nil, nil, &member); err != nil {
		return Member{}, err
	}
	return member, nil
}

// Messages

func (c *Client) CreateMessage(ctx context.Context, req NewMessage) (feed.Message, error) {
	var message feed.Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages", nil, req, &message); err != nil {
		return feed.Message{}, err
	}
	return message, nil
}

func (c *Client) GetMessage(ctx context.Context, messageID string) (feed.Message, error) {
	var message feed.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(messageID), nil, nil, &message); err != nil {
		return feed.Message{}, err
	}
	return message, nil
}

func (c *Client) UpdateMessage(ctx context.Context, messageID, body string) (feed.Message, error) {
	var message feed.Message
	req := map[string]string{"body": body}
	if err := c.doJSON(ctx, http.MethodPut, "/api/messages/"+url.PathEscape(messageID), nil, req, &message); err != nil {
		return feed.Message{}, err
	}
	return message, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil, nil)
}

func (c *Client) ToggleReaction(ctx context.Context, messageID, value string) (feed.Message, error) {
	var message feed.Message
	req := map[string]string{"value": value}
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/reactions", nil, req, &message); err != nil {
		return feed.Message{}, err
	}
	return message, nil
}

// FetchPage lists one page of a scope, newest first.
func (c *Client) FetchPage(ctx context.Context, scope feed.Scope, cursor string, limit int) (feed.Page, error) {
	query := scopeQuery(scope)
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var page feed.Page
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages", query, nil, &page); err != nil {
		return feed.Page{}, err
	}
	return page, nil
}

func scopeQuery(scope feed.Scope) url.Values {
	query := url.Values{}
	switch scope.Kind {
	case feed.ScopeThread:
		query.Set("parentMessageId", scope.ID)
	case feed.ScopeConversation:
		query.Set("conversationId", scope.ID)
	default:
		query.Set("channelId", scope.ID)
	}
	return query
}

// Uploads

// GenerateUploadURL reserves a one-time upload target in the workspace.
func (c *Client) GenerateUploadURL(ctx context.Context, workspaceID string) (UploadTarget, error) {
	var target UploadTarget
	if err := c.doJSON(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(workspaceID)+"/upload-url", nil, nil, &target); err != nil {
		return UploadTarget{}, err
	}
	if target.UploadURL == "" {
		return UploadTarget{}, fmt.Errorf("generate upload url: %w: empty target", ErrNetwork)
	}
	return target, nil
}

// Transfer posts body to a target from GenerateUploadURL and returns the
// storage id the service assigned. The target URL is its own credential, so
// the request carries no bearer token.
func (c *Client) Transfer(ctx context.Context, uploadURL, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	var resp struct {
		StorageID string `json:"storageId"`
	}
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	if resp.StorageID == "" {
		return "", fmt.Errorf("transfer: %w: response has no storageId", ErrNetwork)
	}
	return resp.StorageID, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, respBody)
}

func (c *Client) do(req *http.Request, respBody any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.send(req, respBody)
}

func (c *Client) send(req *http.Request, respBody any) error {
	op := req.Method + " " + req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respData)
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	if err := json.Unmarshal(respData, respBody); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	var payload apiErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
