// Package backend is the REST client for the conversational-AI call service.
// It creates calls and hands back the WebSocket join URL the engine dials.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aplisay/voicebridge/pkg/engine"
	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

const (
	defaultBaseURL = "https://api.ultravox.ai"
	callsPath      = "/api/calls"
)

// Client talks to the call service API. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, e.g. for a regional deployment or a
// test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a call service client. The API key is required; a missing
// key is a configuration fault and fails here rather than on first call.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("backend: API key is required")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type createCallRequest struct {
	SystemPrompt        string              `json:"systemPrompt,omitempty"`
	Voice               string              `json:"voice,omitempty"`
	Medium              callMedium          `json:"medium"`
	SelectedTools       []wire.SelectedTool `json:"selectedTools,omitempty"`
	FirstSpeaker        string              `json:"firstSpeaker,omitempty"`
	RecordingEnabled    bool                `json:"recordingEnabled,omitempty"`
	TranscriptOptional  bool                `json:"transcriptOptional,omitempty"`
	InitialOutputMedium string              `json:"initialOutputMedium,omitempty"`
}

type callMedium struct {
	ServerWebSocket serverWebSocketMedium `json:"serverWebSocket"`
}

type serverWebSocketMedium struct {
	InputSampleRate  int `json:"inputSampleRate"`
	OutputSampleRate int `json:"outputSampleRate"`
}

type createCallResponse struct {
	CallID  string    `json:"callId"`
	JoinURL string    `json:"joinUrl"`
	Created time.Time `json:"created"`
	Ended   time.Time `json:"ended"`
}

// StartCall creates a call configured for a server WebSocket media stream
// and returns its join URL. Implements engine.CallStarter.
func (c *Client) StartCall(ctx context.Context, req engine.CallRequest) (engine.CallInfo, error) {
	body := createCallRequest{
		SystemPrompt:  req.Instructions,
		Voice:         req.Voice,
		SelectedTools: req.Tools,
		Medium: callMedium{
			ServerWebSocket: serverWebSocketMedium{
				InputSampleRate:  req.InputSampleRate,
				OutputSampleRate: req.OutputSampleRate,
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return engine.CallInfo{}, fmt.Errorf("marshal call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+callsPath, bytes.NewReader(payload))
	if err != nil {
		return engine.CallInfo{}, fmt.Errorf("create call request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return engine.CallInfo{}, fmt.Errorf("call service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return engine.CallInfo{}, fmt.Errorf("call service returned %d: %s", resp.StatusCode, detail)
	}

	var created createCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return engine.CallInfo{}, fmt.Errorf("decode call response: %w", err)
	}
	if created.JoinURL == "" {
		return engine.CallInfo{}, fmt.Errorf("call service response missing join URL")
	}

	return engine.CallInfo{
		CallID:    created.CallID,
		JoinURL:   created.JoinURL,
		ExpiresAt: created.Created.Add(5 * time.Minute),
	}, nil
}
