package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type WebhookRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

type WebhookResponse struct {
	Status int
	Body   string
	// BodyErr is set when the body could not be read to the end; Body then
	// holds what arrived.
	BodyErr string
}

type WebhookClient interface {
	Send(ctx context.Context, req WebhookRequest) (WebhookResponse, error)
}

type HTTPWebhookClient struct {
	client    *http.Client
	bodyLimit int64
}

// NewHTTPWebhookClient uses client, or a client without its own timeout (the
// executor's context bounds each call).
func NewHTTPWebhookClient(client *http.Client, bodyLimit int) *HTTPWebhookClient {
	if client == nil {
		client = &http.Client{}
	}
	if bodyLimit <= 0 {
		bodyLimit = 64 << 10
	}
	return &HTTPWebhookClient{client: client, bodyLimit: int64(bodyLimit)}
}

func (c *HTTPWebhookClient) Send(ctx context.Context, req WebhookRequest) (WebhookResponse, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return WebhookResponse{}, err
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if req.Body != "" && hreq.Header.Get("Content-Type") == "" {
		if json.Valid([]byte(req.Body)) {
			hreq.Header.Set("Content-Type", "application/json")
		} else {
			hreq.Header.Set("Content-Type", "text/plain; charset=utf-8")
		}
	}
	hreq.Header.Set("User-Agent", "cronkeeper")

	resp, err := c.client.Do(hreq)
	if err != nil {
		return WebhookResponse{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.bodyLimit))
	out := WebhookResponse{Status: resp.StatusCode, Body: string(b)}
	if err != nil {
		out.BodyErr = err.Error()
	}
	return out, nil
}

type AgentRequest struct {
	AgentName   string `json:"agent"`
	Description string `json:"description"`
	TaskID      string `json:"taskId"`
	TaskName    string `json:"taskName"`
}

// AgentDelegate hands a task description to an external agent and returns
// its textual answer.
type AgentDelegate interface {
	Delegate(ctx context.Context, req AgentRequest) (string, error)
}

type unconfiguredAgent struct{}

func (unconfiguredAgent) Delegate(context.Context, AgentRequest) (string, error) {
	return "", errors.New("agent delegate not configured")
}

// HTTPAgent posts AgentRequest as JSON and expects either
// {"result": "...", "error": "..."} or a plain-text body.
type HTTPAgent struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPAgent(url, token string, timeout time.Duration) AgentDelegate {
	if strings.TrimSpace(url) == "" {
		return unconfiguredAgent{}
	}
	return &HTTPAgent{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (a *HTTPAgent) Delegate(ctx context.Context, req AgentRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		hreq.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(hreq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read agent response: %w", err)
	}

	var reply struct {
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	text := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &reply) == nil && (reply.Result != "" || reply.Error != "") {
		text = reply.Result
		if reply.Error != "" {
			return text, errors.New(reply.Error)
		}
	}
	if resp.StatusCode >= 400 {
		return text, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	return text, nil
}
