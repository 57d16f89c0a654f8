package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
)

// StatusError is returned for non-2xx responses. Body holds the API error
// message when it could be decoded, the raw body otherwise.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("claude api status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	httpClient *http.Client
	apiKey     string
	APIVersion string
	BaseURL    string
}

func NewClient(apiKey string, baseURL string, apiVersion ...string) *Client {
	version := defaultAPIVersion
	if len(apiVersion) > 0 {
		version = apiVersion[0]
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIVersion: version,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.APIVersion)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) post(ctx context.Context, req *MessageRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	req_, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req_)

	log.Debug().Object("request", req).Msg("Sending claude request")
	resp, err := c.httpClient.Do(req_)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		return nil, readStatusError(resp)
	}
	return resp, nil
}

func readStatusError(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &StatusError{StatusCode: resp.StatusCode, Body: err.Error()}
	}
	var errorResp ErrorResponse
	if err := json.Unmarshal(raw, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &StatusError{StatusCode: resp.StatusCode, Body: errorResp.Error.Message}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
}

// StreamMessage starts a streaming request. The caller owns the returned body
// and must close it.
func (c *Client) StreamMessage(ctx context.Context, req *MessageRequest) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) SendMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	var ret MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return nil, errors.Wrap(err, "could not decode claude response")
	}
	return &ret, nil
}
