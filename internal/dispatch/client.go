package dispatch

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

	"github.com/fieldscope/cati-back/internal/dialqueue"
	"github.com/fieldscope/cati-back/internal/domain"
)

var ErrProviderUnavailable = errors.New("telephony provider is not configured")

type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// Client calls the external telephony provider's click-to-call endpoint.
// Every failure mode (non-2xx, timeout, malformed body) is surfaced as a
// *domain.DispatchError so the queue treats them uniformly.
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}
}

func (c *Client) Available() bool {
	return c.baseURL != ""
}

type dispatchRequestBody struct {
	FromNumber         string `json:"fromNumber"`
	ToNumber           string `json:"toNumber"`
	RingTimeoutFrom    int    `json:"ringTimeoutFrom"`
	RingTimeoutTo      int    `json:"ringTimeoutTo"`
	MaxDurationSeconds int    `json:"maxDurationSeconds"`
}

type dispatchResponseBody struct {
	CallID string `json:"callId"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Dispatch(
	ctx context.Context,
	request dialqueue.DispatchRequest,
) (dialqueue.DispatchResult, error) {
	if !c.Available() {
		return dialqueue.DispatchResult{}, ErrProviderUnavailable
	}

	body, err := json.Marshal(dispatchRequestBody{
		FromNumber:         request.FromNumber,
		ToNumber:           request.ToNumber,
		RingTimeoutFrom:    request.RingTimeoutFrom,
		RingTimeoutTo:      request.RingTimeoutTo,
		MaxDurationSeconds: request.MaxDurationSeconds,
	})
	if err != nil {
		return dialqueue.DispatchResult{}, fmt.Errorf("encode dispatch request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, err := c.dispatchOnce(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Only transport-level failures are retried; a structured provider
		// rejection will not change on replay.
		var dispatchErr *domain.DispatchError
		if errors.As(err, &dispatchErr) && dispatchErr.Code != "transport" {
			return dialqueue.DispatchResult{}, err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return dialqueue.DispatchResult{}, lastErr
}

func (c *Client) dispatchOnce(ctx context.Context, body []byte) (dialqueue.DispatchResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		callCtx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return dialqueue.DispatchResult{}, fmt.Errorf("build dispatch request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return dialqueue.DispatchResult{}, &domain.DispatchError{
			Code:    "transport",
			Message: err.Error(),
		}
	}
	defer httpResponse.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(httpResponse.Body, 1<<20))
	if err != nil {
		return dialqueue.DispatchResult{}, &domain.DispatchError{
			Code:    "transport",
			Message: err.Error(),
		}
	}

	var decoded dispatchResponseBody
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return dialqueue.DispatchResult{}, &domain.DispatchError{
			Code:    "malformed_response",
			Message: fmt.Sprintf("status %d: %v", httpResponse.StatusCode, err),
		}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		dispatchErr := &domain.DispatchError{
			Code:    fmt.Sprintf("http_%d", httpResponse.StatusCode),
			Message: "provider rejected dispatch",
		}
		if decoded.Error != nil {
			dispatchErr.Code = decoded.Error.Code
			dispatchErr.Message = decoded.Error.Message
		}
		return dialqueue.DispatchResult{}, dispatchErr
	}

	if strings.TrimSpace(decoded.CallID) == "" {
		return dialqueue.DispatchResult{}, &domain.DispatchError{
			Code:    "malformed_response",
			Message: "provider response missing callId",
		}
	}
	return dialqueue.DispatchResult{CallID: decoded.CallID}, nil
}
