package prophetx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oddslab/makerbot/internal/crypto"
	"github.com/oddslab/makerbot/internal/domain"
)

// Client is the REST client for the ProphetX exchange API. It handles
// order-book snapshot reads, order placement and cancellation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.SessionAuth
	makerID    string
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.prophetx.co".
// auth carries the session credentials; makerID is the maker address the
// credentials belong to.
func NewClient(baseURL string, auth *crypto.SessionAuth, makerID string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:    auth,
		makerID: makerID,
	}
}

// GetOrderBook returns the full set of active maker orders for a market.
func (c *Client) GetOrderBook(ctx context.Context, marketID string) ([]domain.MakerOrder, error) {
	path := fmt.Sprintf("/v1/markets/%s/orders", marketID)

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("prophetx: get order book %s: %w", marketID, err)
	}

	var payload struct {
		Orders []APIOrder `json:"orders"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("prophetx: decode order book: %w", err)
	}

	orders := make([]domain.MakerOrder, 0, len(payload.Orders))
	for i := range payload.Orders {
		o, err := payload.Orders[i].ToDomainOrder()
		if err != nil {
			// A single bad row must not poison the snapshot.
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// PostOrder submits a signed maker order and returns the venue order id.
func (c *Client) PostOrder(ctx context.Context, req NewOrderRequest) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", req)
	if err != nil {
		return "", fmt.Errorf("prophetx: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("prophetx: decode order result: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("prophetx: post order: %s: %w", result.ErrorMsg, classifyCode(result.Code))
	}
	return result.OrderID, nil
}

// CancelOrders cancels the given orders in bulk. The venue reports partial
// outcomes verbatim; an already-gone order is not an error, it simply does
// not count as cancelled.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (domain.CancelResult, error) {
	body := map[string]any{"order_ids": orderIDs}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/v1/orders", body)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("prophetx: cancel orders: %w", err)
	}

	var result APICancelResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.CancelResult{}, fmt.Errorf("prophetx: decode cancel result: %w", err)
	}
	if result.Code != "" && result.Code != codeOrderGone {
		return domain.CancelResult{Cancelled: result.Cancelled, Failed: result.Failed},
			fmt.Errorf("prophetx: cancel orders: %s: %w", result.ErrorMsg, classifyCode(result.Code))
	}
	return domain.CancelResult{Cancelled: result.Cancelled, Failed: result.Failed}, nil
}

// doRequest performs an authenticated request and returns the response body.
// HTTP 5xx and network failures map to ErrTransport; 429 maps to
// ErrRateLimited.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var (
		reqBody  io.Reader
		bodyText string
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyText = string(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(c.makerID, method, path, bodyText) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrTransport)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", domain.ErrTransport)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrTransport)
	case resp.StatusCode >= 400:
		// Business errors come back with a JSON code; let the caller's
		// decode path classify them.
		return respBody, nil
	}
	return respBody, nil
}

// classifyCode maps a venue error code to the domain sentinel it represents.
func classifyCode(code string) error {
	switch code {
	case codeInvalidOdds:
		return domain.ErrInvalidOdds
	case codeRateLimited:
		return domain.ErrRateLimited
	case codeOrderGone:
		return domain.ErrOrderGone
	default:
		return domain.ErrOrderRejected
	}
}
