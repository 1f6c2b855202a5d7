// Package comfy talks to a ComfyUI server over its HTTP API.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
)

const (
	queueTimeout   = 30 * time.Second
	historyTimeout = 10 * time.Second
	imageTimeout   = 30 * time.Second
	statsTimeout   = 10 * time.Second
	maxErrorBody   = 4 << 10
)

type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Client submits workflows and collects their outputs. One client id is
// used for every prompt it queues.
type Client struct {
	baseURL      string
	clientID     string
	http         *http.Client
	timeout      time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// History is the execution record of one prompt.
type History struct {
	Status  *Status                   `json:"status,omitempty"`
	Outputs map[string]NodeOutput     `json:"outputs,omitempty"`
	Prompt  json.RawMessage           `json:"prompt,omitempty"`
	Meta    map[string]json.RawMessage `json:"meta,omitempty"`
}

type Status struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
	Messages  []any  `json:"messages,omitempty"`
}

type NodeOutput struct {
	Images []ImageRef `json:"images,omitempty"`
}

// ImageRef locates an output image on the ComfyUI server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = domain.DefaultComfyURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultComfyTimeoutSeconds * time.Second
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = domain.DefaultComfyPollIntervalMs * time.Millisecond
	}
	return &Client{
		baseURL:      base,
		clientID:     uuid.NewString(),
		http:         httpClient,
		timeout:      timeout,
		pollInterval: interval,
		logger:       logger.Named("comfy"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ClientID() string {
	return c.clientID
}

// QueuePrompt submits an API-format workflow and returns its prompt id.
func (c *Client) QueuePrompt(ctx context.Context, workflow map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}
	var out struct {
		PromptID string `json:"prompt_id"`
	}
	if err := c.doJSON(ctx, queueTimeout, http.MethodPost, "/prompt", nil, payload, &out); err != nil {
		return "", domain.WrapContext(domain.CodeInvocation, "comfy.queue", err)
	}
	if out.PromptID == "" {
		return "", domain.E(domain.CodeInvocation, "comfy.queue", "response has no prompt_id", domain.ErrInvocation)
	}
	return out.PromptID, nil
}

// History returns the execution record of promptID, or nil while it is not yet recorded.
func (c *Client) History(ctx context.Context, promptID string) (*History, error) {
	var out map[string]History
	if err := c.doJSON(ctx, historyTimeout, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, nil, &out); err != nil {
		return nil, domain.WrapContext(domain.CodeInvocation, "comfy.history", err)
	}
	entry, ok := out[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// WaitForCompletion polls the history at a fixed interval until outputs appear.
// Running past the client timeout is a timeout error; a remote error status
// is an invocation error.
func (c *Client) WaitForCompletion(ctx context.Context, promptID string) (*History, error) {
	const op = "comfy.wait"
	deadline := time.Now().Add(c.timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return nil, domain.E(domain.CodeDeadlineExceeded, op,
				fmt.Sprintf("prompt %s did not complete within %s", promptID, c.timeout), domain.ErrTimeout)
		}

		history, err := c.History(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.WrapContext(domain.CodeInvocation, op, ctx.Err())
			}
			c.logger.Debug("history poll failed", zap.String("prompt_id", promptID), zap.Error(err))
			return nil, err
		}
		if history != nil {
			if history.Status != nil && history.Status.StatusStr == "error" {
				return nil, domain.E(domain.CodeInvocation, op,
					"ComfyUI execution failed: "+statusMessage(history.Status), domain.ErrInvocation)
			}
			if len(history.Outputs) > 0 {
				return history, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, domain.WrapContext(domain.CodeInvocation, op, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Image downloads one output image.
func (c *Client) Image(ctx context.Context, ref ImageRef) ([]byte, error) {
	folder := ref.Type
	if folder == "" {
		folder = "output"
	}
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", folder)

	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()
	resp, err := c.do(ctx, http.MethodGet, "/view", query, nil)
	if err != nil {
		return nil, domain.WrapContext(domain.CodeInvocation, "comfy.image", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapContext(domain.CodeInvocation, "comfy.image", err)
	}
	return data, nil
}

// SystemStats returns the server's system_stats document.
func (c *Client) SystemStats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, statsTimeout, http.MethodGet, "/system_stats", nil, nil, &out); err != nil {
		return nil, domain.WrapContext(domain.CodeConnectivity, "comfy.stats", err)
	}
	return out, nil
}

// Available reports whether the server answers system_stats.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.SystemStats(ctx)
	return err == nil
}

// ExtractImages lists every image of every output node, ordered by node id.
func ExtractImages(history *History) []ImageRef {
	if history == nil {
		return nil
	}
	nodes := make([]string, 0, len(history.Outputs))
	for node := range history.Outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var images []ImageRef
	for _, node := range nodes {
		for _, img := range history.Outputs[node].Images {
			if img.Type == "" {
				img.Type = "output"
			}
			images = append(images, img)
		}
	}
	return images
}

func statusMessage(status *Status) string {
	parts := make([]string, 0, len(status.Messages))
	for _, msg := range status.Messages {
		if msg == nil {
			continue
		}
		raw, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		parts = append(parts, string(raw))
	}
	if len(parts) == 0 {
		return "Unknown error"
	}
	return strings.Join(parts, "; ")
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

// StatusError is a non-2xx answer from ComfyUI.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
