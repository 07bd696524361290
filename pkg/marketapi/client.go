// Package marketapi provides a client for the marketplace item lookup API.
// When a listing's product code is known, the API returns authoritative
// identity and pricing data that takes precedence over extracted values.
package marketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the marketplace item API operations.
type Client interface {
	// ItemLookup fetches the listing registered under a product code.
	ItemLookup(ctx context.Context, productCode string) (*Item, error)
}

// Item is the marketplace's registered listing data.
type Item struct {
	ItemCode    string `json:"item_code"`
	Title       string `json:"title"`
	ShopName    string `json:"shop_name"`
	SalePrice   int64  `json:"sale_price"`
	RetailPrice int64  `json:"retail_price"`
}

// ErrNotFound reports that the marketplace has no item for the code.
var ErrNotFound = eris.New("marketapi: item not found")

// APIError is an application-level error returned inside a 200 response.
type APIError struct {
	ResultCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketapi: result %d: %s", e.ResultCode, e.Message)
}

// itemResponse is the API envelope. result_code 0 means success.
type itemResponse struct {
	ResultCode int    `json:"result_code"`
	ResultMsg  string `json:"result_msg"`
	Item       *Item  `json:"item"`
}

// Option configures the marketapi client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a marketplace item API client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "marketapi: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("marketapi: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) ItemLookup(ctx context.Context, productCode string) (*Item, error) {
	if productCode == "" {
		return nil, eris.New("marketapi: product code is required")
	}
	reqURL := fmt.Sprintf("%s/v1/items/%s", c.baseURL, productCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "marketapi: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "marketapi: request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("marketapi: unexpected status %d: %s", statusCode, string(body))
	}

	var result itemResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "marketapi: unmarshal response")
	}
	if result.ResultCode != 0 {
		return nil, &APIError{ResultCode: result.ResultCode, Message: result.ResultMsg}
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return result.Item, nil
}
