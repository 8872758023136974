package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client talks to a remote payment provider over its JSON API
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type chargeResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// PaymentIntent is a provider-side intent awaiting customer action
type PaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ProviderError represents a failed provider exchange
type ProviderError struct {
	Kind       ErrorKind
	Code       string
	Message    string
	StatusCode int
	Provider   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Provider, e.Code, e.Message)
}

// NewClient creates a provider client. timeout caps the underlying HTTP exchange.
func NewClient(name, baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Charge posts a charge and converts every failure into an Outcome
func (c *Client) Charge(ctx context.Context, req ChargeRequest) Outcome {
	var resp chargeResponse
	err := c.makeRequest(ctx, http.MethodPost, "/charge", req, &resp)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			if perr.Kind == "" && resp.ErrorMessage != "" {
				return Declined(resp.ErrorMessage)
			}
			if perr.Kind == "" {
				return Declined("Payment provider declined the charge.")
			}
			return Failed(perr.Kind, perr.Message)
		}
		return Failed(ErrorKindInvalidResponse, err.Error())
	}

	if !resp.Success {
		if resp.ErrorMessage != "" {
			return Declined(resp.ErrorMessage)
		}
		return Declined("Payment provider declined the charge.")
	}
	if resp.TransactionID == "" {
		return Failed(ErrorKindInvalidResponse, "accepted charge without transaction id")
	}
	return Accepted(resp.TransactionID)
}

// CreatePaymentIntent asks the provider for an intent the customer must confirm
func (c *Client) CreatePaymentIntent(ctx context.Context, req ChargeRequest) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.makeRequest(ctx, http.MethodPost, "/payment-intents", req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// IsHealthy checks the provider's health endpoint
func (c *Client) IsHealthy(ctx context.Context) bool {
	var resp map[string]interface{}
	if err := c.makeRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return false
	}
	return resp["status"] == "healthy"
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, response interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := ErrorKindNetwork
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = ErrorKindTimeout
		}
		return &ProviderError{
			Kind:     kind,
			Code:     "NETWORK_ERROR",
			Message:  err.Error(),
			Provider: c.name,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{
			Kind:     ErrorKindNetwork,
			Code:     "READ_ERROR",
			Message:  err.Error(),
			Provider: c.name,
		}
	}

	if resp.StatusCode >= 400 {
		if response != nil {
			_ = json.Unmarshal(respBody, response)
		}
		return &ProviderError{
			Kind:       kindFromStatus(resp.StatusCode),
			Code:       errorCodeFromStatus(resp.StatusCode),
			Message:    string(respBody),
			StatusCode: resp.StatusCode,
			Provider:   c.name,
		}
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return &ProviderError{
				Kind:       ErrorKindInvalidResponse,
				Code:       "INVALID_RESPONSE",
				Message:    err.Error(),
				StatusCode: resp.StatusCode,
				Provider:   c.name,
			}
		}
	}
	return nil
}

// kindFromStatus returns "" for statuses that mean the provider made a decision
func kindFromStatus(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorKindTimeout
	case http.StatusTooManyRequests:
		return ErrorKindUpstream
	}
	if statusCode >= 500 {
		return ErrorKindUpstream
	}
	return ""
}

func errorCodeFromStatus(statusCode int) string {
	switch statusCode {
	case 400:
		return "BAD_REQUEST"
	case 401:
		return "UNAUTHORIZED"
	case 402:
		return "PAYMENT_REQUIRED"
	case 404:
		return "NOT_FOUND"
	case 408:
		return "TIMEOUT"
	case 422:
		return "UNPROCESSABLE_ENTITY"
	case 429:
		return "RATE_LIMITED"
	case 500:
		return "INTERNAL_SERVER_ERROR"
	case 502:
		return "BAD_GATEWAY"
	case 503:
		return "SERVICE_UNAVAILABLE"
	case 504:
		return "GATEWAY_TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}
