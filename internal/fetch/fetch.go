// Package fetch retrieves marketplace pages. Every attempt goes out under a
// network identity (User-Agent plus optional proxy) chosen from the learned
// identity ranking; retryable outcomes rotate to the next identity with
// backoff and jitter, and an adaptive limiter tunes the request rate from
// observed responses.
package fetch

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shoplens/pipeline-cli/internal/config"
	"github.com/shoplens/pipeline-cli/internal/learn"
	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/resilience"
)

const defaultUserAgent = "shoplens-pipeline/1.0"

// Bodies larger than this are truncated; marketplace listing pages are well
// under it.
const maxBodyBytes = 8 << 20

// Identity is the network identity one attempt goes out with.
type Identity struct {
	UserAgent string
	Proxy     string // empty means a direct connection
}

// Result is one completed fetch.
type Result struct {
	Body     []byte
	FinalURL string
	Status   int
	Identity Identity
	Attempts int
}

// Fetcher retrieves pages with identity rotation and adaptive rate limiting.
type Fetcher struct {
	cfg     config.FetchConfig
	tracker *learn.Tracker
	limiter *AdaptiveLimiter

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New returns a Fetcher using the given config and identity tracker.
func New(cfg config.FetchConfig, tracker *learn.Tracker) *Fetcher {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	burst := int(math.Ceil(perSec))
	if burst < 1 {
		burst = 1
	}
	return &Fetcher{
		cfg:     cfg,
		tracker: tracker,
		limiter: NewAdaptiveLimiter(rate.Limit(perSec), burst),
		clients: make(map[string]*http.Client),
	}
}

// Fetch retrieves one URL, rotating identities across attempts. Transient
// outcomes (403/408/429/5xx, timeouts, detected block pages) retry under the
// next identity; the attempt cap and backoff come from config. A cancelled
// attempt records nothing against any identity.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	identities := f.identityPlan(ctx)
	plan := resilience.Policy{
		Attempts:  f.cfg.MaxAttempts,
		BaseDelay: time.Duration(f.cfg.InitialBackoffMs) * time.Millisecond,
		MaxDelay:  time.Duration(f.cfg.MaxBackoffMs) * time.Millisecond,
		Jitter:    f.cfg.JitterFraction,
		OnRetry: func(attempt int, err error) {
			zap.L().Warn("fetch: rotating identity and retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
	}

	attempts := 0
	res, err := resilience.DoVal(ctx, plan, func(ctx context.Context) (*Result, error) {
		id := identities[attempts%len(identities)]
		attempts++
		return f.attempt(ctx, rawURL, id)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s exhausted after %d attempts", rawURL, attempts)
	}
	res.Attempts = attempts
	return res, nil
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, id Identity) (*Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	client, err := f.clientFor(id.Proxy)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: build request %s", rawURL)
	}
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept-Language", "ja,en-US;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight: absent from the identity log.
			return nil, ctx.Err()
		}
		f.recordOutcome(ctx, id, false, false)
		return nil, eris.Wrapf(err, "fetch: request %s", rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.recordOutcome(ctx, id, false, false)
		return nil, resilience.MarkTransient(eris.Wrapf(err, "fetch: read body %s", rawURL), resp.StatusCode)
	}

	if blocked, btype := DetectBlock(resp, body); blocked {
		f.recordOutcome(ctx, id, false, true)
		f.limiter.OnRateLimit()
		zap.L().Warn("fetch: block page detected",
			zap.String("url", rawURL),
			zap.String("block_type", string(btype)),
			zap.Int("status", resp.StatusCode))
		return nil, resilience.MarkTransient(eris.Errorf("fetch: blocked (%s) at %s", btype, rawURL), resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		f.recordOutcome(ctx, id, true, false)
		f.limiter.OnSuccess()
		return &Result{
			Body:     body,
			FinalURL: resp.Request.URL.String(),
			Status:   resp.StatusCode,
			Identity: id,
		}, nil
	case resilience.RetryableStatus(resp.StatusCode):
		hostile := resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests
		f.recordOutcome(ctx, id, false, hostile)
		if resp.StatusCode == http.StatusTooManyRequests {
			f.limiter.OnRateLimit()
		}
		return nil, resilience.MarkTransient(eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	default:
		// Permanent statuses (404, 410) are the URL's fault, not the
		// identity's: no identity outcome is recorded.
		return nil, eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL)
	}
}

func (f *Fetcher) recordOutcome(ctx context.Context, id Identity, success, blocked bool) {
	f.tracker.RecordIdentity(ctx, model.IdentityUserAgent, id.UserAgent, success, blocked)
	if id.Proxy != "" {
		f.tracker.RecordIdentity(ctx, model.IdentityProxy, id.Proxy, success, blocked)
	}
}

// identityPlan orders the configured identities best-first using stored
// counters. Configured values the tracker has never seen rank by smoothing,
// between proven and failing ones.
func (f *Fetcher) identityPlan(ctx context.Context) []Identity {
	uas := f.cfg.UserAgents
	if len(uas) == 0 {
		uas = []string{defaultUserAgent}
	}
	uas = f.rankValues(ctx, model.IdentityUserAgent, uas)

	proxies := f.cfg.Proxies
	if len(proxies) == 0 {
		proxies = []string{""}
	} else {
		proxies = f.rankValues(ctx, model.IdentityProxy, proxies)
	}

	n := len(uas)
	if len(proxies) > n {
		n = len(proxies)
	}
	plan := make([]Identity, 0, n)
	for i := 0; i < n; i++ {
		plan = append(plan, Identity{UserAgent: uas[i%len(uas)], Proxy: proxies[i%len(proxies)]})
	}
	return plan
}

func (f *Fetcher) rankValues(ctx context.Context, kind string, configured []string) []string {
	stored, err := f.tracker.RankedIdentities(ctx, kind)
	if err != nil {
		zap.L().Warn("fetch: identity ranking unavailable",
			zap.String("kind", kind), zap.Error(err))
		return configured
	}
	known := make(map[string]model.IdentityScore, len(stored))
	for _, s := range stored {
		known[s.Value] = s
	}
	scores := make([]model.IdentityScore, 0, len(configured))
	for _, v := range configured {
		if s, ok := known[v]; ok {
			scores = append(scores, s)
		} else {
			scores = append(scores, model.IdentityScore{Kind: kind, Value: v})
		}
	}
	ranked := learn.RankIdentities(scores)
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.Value
	}
	return out
}

func (f *Fetcher) clientFor(proxy string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[proxy]; ok {
		return c, nil
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: parse proxy %s", proxy)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	timeout := time.Duration(f.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &http.Client{Timeout: timeout, Transport: transport}
	f.clients[proxy] = c
	return c, nil
}
