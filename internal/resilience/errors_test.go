package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_MarkedTransient(t *testing.T) {
	err := MarkTransient(errors.New("server overloaded"), 503)
	assert.True(t, Retryable(err))
}

func TestRetryable_WrappedTransient(t *testing.T) {
	inner := MarkTransient(errors.New("rate limited"), 429)
	assert.True(t, Retryable(fmt.Errorf("lookup failed: %w", inner)))
}

func TestRetryable_NilAndPlainErrors(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(errors.New("listing has no price block")))
}

func TestRetryable_SyscallErrors(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, Retryable(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
}

func TestRetryable_NetTimeout(t *testing.T) {
	assert.True(t, Retryable(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}

func TestRetryable_MessagePatterns(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"read: i/o timeout",
	} {
		assert.True(t, Retryable(errors.New(msg)), msg)
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{403, 408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 404, 410} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestTransient_UnwrapAndStatus(t *testing.T) {
	inner := errors.New("root cause")
	marked := MarkTransient(inner, 502)

	assert.ErrorIs(t, marked, inner)
	var tr *Transient
	assert.ErrorAs(t, marked, &tr)
	assert.Equal(t, 502, tr.Status)
	assert.Equal(t, "root cause", marked.Error())
}
