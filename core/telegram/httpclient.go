package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/m3rciful/fsmbot/core/logger"
	"github.com/m3rciful/fsmbot/core/telegram/netutil"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 5 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 2 * time.Second
)

// BuildHTTPClient returns the client used for Bot API calls. Both timeouts
// are stretched by longPoll so getUpdates is not cut off while Telegram holds
// the request open.
func BuildHTTPClient(longPoll time.Duration) *http.Client {
	longPoll = max(longPoll, 0)
	return &http.Client{
		Timeout: defaultClientTimeout + longPoll,
		Transport: &retryTransport{
			base:       newTransport(defaultResponseTimeout + longPoll),
			maxRetries: defaultRetryAttempts,
			backoff:    defaultRetryBackoff,
		},
	}
}

func newTransport(responseTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// retryTransport repeats requests that failed before any response arrived,
// as classified by netutil.ShouldRetry. A request whose body cannot be
// replayed gets a single attempt.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := 1
	if req.Body == nil || req.GetBody != nil {
		attempts += t.maxRetries
	}

	ctx := req.Context()
	resp, err := base.RoundTrip(req)
	for attempt := 2; err != nil && attempt <= attempts && netutil.ShouldRetry(err); attempt++ {
		logger.Debug(ctx, "tg", "http.retry",
			slog.String("endpoint", path.Base(req.URL.Path)),
			slog.Int("attempt", attempt),
		)
		timer := time.NewTimer(t.backoff * time.Duration(attempt-1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		next, rerr := rewind(req)
		if rerr != nil {
			return nil, rerr
		}
		resp, err = base.RoundTrip(next)
	}
	return resp, err
}

// rewind clones req with a fresh copy of its body.
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		next.Body = body
	}
	return next, nil
}
