package marketapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemLookup_Success(t *testing.T) {
	t.Parallel()

	want := itemResponse{
		ResultCode: 0,
		ResultMsg:  "SUCCESS",
		Item: &Item{
			ItemCode:    "4968761342158",
			Title:       "ワイヤレスイヤホン Bluetooth 5.3",
			ShopName:    "サウンドショップ",
			SalePrice:   2480,
			RetailPrice: 3280,
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/v1/items/4968761342158", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.ItemLookup(context.Background(), "4968761342158")

	require.NoError(t, err)
	assert.Equal(t, want.Item.Title, got.Title)
	assert.Equal(t, want.Item.ShopName, got.ShopName)
	assert.Equal(t, int64(2480), got.SalePrice)
	assert.Equal(t, int64(3280), got.RetailPrice)
}

func TestItemLookup_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`not found`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.ItemLookup(context.Background(), "0000000000000")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItemLookup_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(itemResponse{ResultCode: 1003, ResultMsg: "invalid certification key"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-key")
	_, err := client.ItemLookup(context.Background(), "4968761342158")

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1003, apiErr.ResultCode)
	assert.Contains(t, err.Error(), "invalid certification key")
}

func TestItemLookup_MissingItemInEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(itemResponse{ResultCode: 0, ResultMsg: "SUCCESS"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.ItemLookup(context.Background(), "4968761342158")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItemLookup_EmptyProductCode(t *testing.T) {
	t.Parallel()

	client := NewClient("http://unused", "test-key")
	_, err := client.ItemLookup(context.Background(), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "product code is required")
}

func TestItemLookup_RetryOn503(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`maintenance`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(itemResponse{Item: &Item{ItemCode: "123", Title: "x"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.ItemLookup(context.Background(), "123")

	require.NoError(t, err)
	assert.Equal(t, "123", got.ItemCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestItemLookup_RetryExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`rate limit`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.ItemLookup(context.Background(), "123")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestItemLookup_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.ItemLookup(context.Background(), "123")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestItemLookup_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(srv.URL, "test-key")
	_, err := client.ItemLookup(ctx, "123")

	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient("https://api.example.jp", "my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "https://api.example.jp", hc.baseURL)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, 15*time.Second, hc.http.Timeout)
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	c := NewClient("https://api.example.jp", "my-key", WithTimeout(3*time.Second))
	hc := c.(*httpClient)
	assert.Equal(t, 3*time.Second, hc.http.Timeout)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	custom := &http.Client{}
	c := NewClient("https://api.example.jp", "my-key", WithHTTPClient(custom))
	hc := c.(*httpClient)
	assert.Equal(t, custom, hc.http)
}

func TestRetryableStatusCode(t *testing.T) {
	assert.True(t, retryableStatusCode(429))
	assert.True(t, retryableStatusCode(500))
	assert.True(t, retryableStatusCode(502))
	assert.True(t, retryableStatusCode(503))
	assert.False(t, retryableStatusCode(200))
	assert.False(t, retryableStatusCode(404))
}
