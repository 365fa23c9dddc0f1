package pollclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"pollchat/internal/domain"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the chat HTTP API on behalf of one user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type File struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type SendRequest struct {
	Content     string `json:"content,omitempty"`
	File        *File  `json:"file,omitempty"`
	IsEncrypted bool   `json:"is_encrypted"`
	ClientMsgID string `json:"client_msg_id"`
}

type SendResult struct {
	MessageID int64           `json:"message_id"`
	Message   *domain.Message `json:"message"`
}

// Send posts a message. A missing ClientMsgID is generated so that the
// request can be retried safely.
func (c *Client) Send(ctx context.Context, chatType domain.ChatType, chatID int64, req SendRequest) (*SendResult, error) {
	if req.ClientMsgID == "" {
		req.ClientMsgID = uuid.NewString()
	}
	var out SendResult
	if err := c.do(ctx, http.MethodPost, chatPath(chatType, chatID, "messages"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type PollResult struct {
	Messages       []*domain.Message `json:"messages"`
	HasMore        bool              `json:"has_more"`
	Watermark      int64             `json:"watermark"`
	PollIntervalMS int64             `json:"poll_interval_ms"`
}

func (c *Client) Poll(ctx context.Context, chatType domain.ChatType, chatID, since int64) (*PollResult, error) {
	q := url.Values{"since": {strconv.FormatInt(since, 10)}}
	var out PollResult
	if err := c.do(ctx, http.MethodGet, chatPath(chatType, chatID, "messages")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, chatType domain.ChatType, chatID int64, limit, offset int) ([]*domain.Message, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	var out struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, chatPath(chatType, chatID, "history")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Acknowledge(ctx context.Context, chatType domain.ChatType, chatID int64) error {
	return c.do(ctx, http.MethodPost, chatPath(chatType, chatID, "read"), nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, ids []int64) error {
	return c.do(ctx, http.MethodPost, "/api/messages/read", map[string]any{"ids": ids}, nil)
}

func (c *Client) Recall(ctx context.Context, chatType domain.ChatType, messageID int64) error {
	body := map[string]any{"chat_type": chatType, "message_id": messageID}
	return c.do(ctx, http.MethodPost, "/api/recall", body, nil)
}

type UnreadResult struct {
	Count int                     `json:"count"`
	Chats []*domain.UnreadCounter `json:"chats"`
}

func (c *Client) Unread(ctx context.Context) (*UnreadResult, error) {
	var out UnreadResult
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SessionsResult struct {
	Sessions []*domain.SessionSummary `json:"sessions"`
	Groups   []*domain.GroupSummary   `json:"groups"`
}

func (c *Client) Sessions(ctx context.Context) (*SessionsResult, error) {
	var out SessionsResult
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload stores a file and returns the reference to send it with.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/uploads/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out File
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func chatPath(chatType domain.ChatType, chatID int64, tail string) string {
	return fmt.Sprintf("/api/chats/%s/%d/%s", chatType, chatID, tail)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error_message"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
