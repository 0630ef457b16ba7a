// Package openai implements assistant.Backend on the OpenAI Assistants v2 HTTP API.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memohai/courier/internal/assistant"
	"github.com/memohai/courier/internal/channel/adapters/common"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-3.5-turbo"
	betaHeader       = "OpenAI-Beta"
	betaHeaderValue  = "assistants=v2"
	listMessageLimit = 20
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	// Model is used for assistants created through CreateAssistant.
	Model   string
	Timeout time.Duration
}

// Client talks to the Assistants API. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

var _ assistant.Backend = (*Client)(nil)

// New creates a Client. The API key is required.
func New(log *slog.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    common.NewHTTPClient(cfg.Timeout),
		logger:  log.With(slog.String("component", "openai")),
	}, nil
}

type assistantRequest struct {
	Model        string  `json:"model"`
	Name         string  `json:"name,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
	Temperature  float64 `json:"temperature"`
}

type assistantObject struct {
	ID string `json:"id"`
}

type threadObject struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
}

type runObject struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	LastError *assistant.RunFailure `json:"last_error"`
}

type messageList struct {
	Data []messageObject `json:"data"`
}

type messageObject struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	Role      string           `json:"role"`
	CreatedAt int64            `json:"created_at"`
	Content   []messageContent `json:"content"`
}

type messageContent struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		betaHeader:      betaHeaderValue,
	}
}

func (c *Client) url(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// CreateAssistant creates an assistant on the configured model and returns its id.
func (c *Client) CreateAssistant(ctx context.Context, name, instructions string, temperature float64) (string, error) {
	var out assistantObject
	req := assistantRequest{Model: c.model, Name: name, Instructions: instructions, Temperature: temperature}
	if err := common.PostJSON(ctx, c.http, c.url("assistants"), c.headers(), req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create assistant: response has no id")
	}
	c.logger.Info("assistant created", slog.String("assistant_id", out.ID), slog.String("model", c.model))
	return out.ID, nil
}

// CreateThread creates an empty thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out threadObject
	if err := common.PostJSON(ctx, c.http, c.url("threads"), c.headers(), struct{}{}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create thread: response has no id")
	}
	return out.ID, nil
}

// AddMessage appends a text message to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID, role, text string) error {
	return common.PostJSON(ctx, c.http, c.url("threads", threadID, "messages"), c.headers(), messageRequest{Role: role, Content: text}, nil)
}

// CreateRun starts a run of assistantID on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, instructions string) (assistant.RunState, error) {
	var out runObject
	req := runRequest{AssistantID: assistantID, Instructions: instructions}
	if err := common.PostJSON(ctx, c.http, c.url("threads", threadID, "runs"), c.headers(), req, &out); err != nil {
		return assistant.RunState{}, err
	}
	c.logger.Debug("run created", slog.String("thread_id", threadID), slog.String("run_id", out.ID), slog.String("status", out.Status))
	return out.state(), nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (assistant.RunState, error) {
	var out runObject
	if err := common.DoJSON(ctx, c.http, http.MethodGet, c.url("threads", threadID, "runs", runID), c.headers(), nil, &out); err != nil {
		return assistant.RunState{}, err
	}
	return out.state(), nil
}

// ListMessages returns the newest messages of a thread, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]assistant.ThreadMessage, error) {
	query := url.Values{}
	query.Set("order", "desc")
	query.Set("limit", fmt.Sprint(listMessageLimit))
	var out messageList
	endpoint := c.url("threads", threadID, "messages") + "?" + query.Encode()
	if err := common.DoJSON(ctx, c.http, http.MethodGet, endpoint, c.headers(), nil, &out); err != nil {
		return nil, err
	}
	items := make([]assistant.ThreadMessage, 0, len(out.Data))
	for _, msg := range out.Data {
		items = append(items, assistant.ThreadMessage{
			ID:        msg.ID,
			RunID:     msg.RunID,
			Role:      msg.Role,
			Text:      msg.text(),
			CreatedAt: time.Unix(msg.CreatedAt, 0).UTC(),
		})
	}
	return items, nil
}

func (r runObject) state() assistant.RunState {
	return assistant.RunState{
		ID:        r.ID,
		Status:    assistant.RunStatus(r.Status),
		LastError: r.LastError,
	}
}

func (m messageObject) text() string {
	parts := make([]string, 0, len(m.Content))
	for _, content := range m.Content {
		if content.Type != "text" || content.Text == nil {
			continue
		}
		if value := strings.TrimSpace(content.Text.Value); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, "\n")
}
