package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Transient wraps an error whose operation may well succeed on a later
// attempt, typically under a different network identity. Status carries the
// HTTP status that produced it when there was one.
type Transient struct {
	Err    error
	Status int
}

func (t *Transient) Error() string { return t.Err.Error() }

func (t *Transient) Unwrap() error { return t.Err }

// MarkTransient tags err as retryable. status may be zero when no HTTP
// exchange happened.
func MarkTransient(err error, status int) error {
	return &Transient{Err: err, Status: status}
}

// Retryable reports whether another attempt could plausibly succeed: the
// chain carries a Transient, the failure is a network timeout, or the
// message matches a known connection-level hiccup.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var t *Transient
	if errors.As(err, &t) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range connectionHiccups {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Errors wrapped by HTTP clients lose their concrete type; these only show
// up as message text.
var connectionHiccups = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
// 403 counts: the marketplace serves it for anti-bot rejections that clear
// under a different identity.
func RetryableStatus(code int) bool {
	switch code {
	case 403, 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
