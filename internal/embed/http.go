package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// ClientConfig holds the transport settings shared by HTTP backends.
type ClientConfig struct {
	// PoolSize bounds idle and active connections (default: 4)
	PoolSize int

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// RequestsPerSecond limits outgoing requests; 0 disables limiting
	RequestsPerSecond float64

	// RequestTimeout bounds one attempt when ctx has no earlier deadline
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// httpClient is a pooled JSON client with rate limiting, retries and a
// circuit breaker.
type httpClient struct {
	backend string
	cfg     ClientConfig
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *raerrors.CircuitBreaker
	retry   raerrors.RetryConfig

	mu        sync.Mutex
	client    *http.Client
	transport *http.Transport
}

func newHTTPClient(backend string, cfg ClientConfig) *httpClient {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	retry := raerrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.ShouldRetry = func(err error) bool {
		if re, ok := raerrors.As(err); ok && re == raerrors.ErrCircuitOpen {
			return false
		}
		return raerrors.IsRetryable(err)
	}

	// Do NOT set http.Client.Timeout: it would override context deadlines.
	transport := newTransport(cfg.PoolSize)
	return &httpClient{
		backend:   backend,
		cfg:       cfg,
		logger:    cfg.Logger,
		limiter:   rate.NewLimiter(limit, burst),
		breaker:   raerrors.NewCircuitBreaker(backend),
		retry:     retry,
		client:    &http.Client{Transport: transport},
		transport: transport,
	}
}

func newTransport(poolSize int) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}
}

// postJSON sends body to url and decodes the response into out.
func (c *httpClient) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.call(ctx, http.MethodPost, url, payload, out)
}

// getJSON fetches url and decodes the response into out.
func (c *httpClient) getJSON(ctx context.Context, url string, out any) error {
	return c.call(ctx, http.MethodGet, url, nil, out)
}

func (c *httpClient) call(ctx context.Context, method, url string, payload []byte, out any) error {
	return c.guard(ctx, func() error {
		return c.doOnce(ctx, method, url, payload, out)
	})
}

// guard runs fn under the rate limiter and circuit breaker, retrying
// retryable failures with backoff.
func (c *httpClient) guard(ctx context.Context, fn func() error) error {
	attempt := 0
	err := raerrors.Retry(ctx, c.retry, func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyError(c.backend, err)
		}
		err := c.breaker.Execute(fn)
		if err != nil {
			c.logger.Debug("embedding_attempt_failed",
				slog.String("backend", c.backend),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return err
	})
	if err != nil && ctx.Err() != nil {
		return classifyError(c.backend, ctx.Err())
	}
	return err
}

// doOnce performs a single request. The HTTP call runs in a goroutine so a
// cancelled context returns immediately instead of waiting on the socket.
func (c *httpClient) doOnce(ctx context.Context, method, url string, payload []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, body)
	if err != nil {
		return raerrors.ValidationError("invalid backend url "+url, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	resultCh := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			resultCh <- classifyError(c.backend, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resultCh <- statusError(c.backend, resp.StatusCode, string(respBody))
			return
		}
		if out == nil {
			resultCh <- nil
			return
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			resultCh <- raerrors.New(raerrors.ErrCodeBackendResponse,
				fmt.Sprintf("%s returned an undecodable response", c.backend), err)
			return
		}
		resultCh <- nil
	}()

	select {
	case <-attemptCtx.Done():
		c.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return classifyError(c.backend, attemptCtx.Err())
	case err := <-resultCh:
		return err
	}
}

// forceCloseConnections replaces the transport so blocked reads fail.
func (c *httpClient) forceCloseConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.CloseIdleConnections()
	c.transport = newTransport(c.cfg.PoolSize)
	c.client = &http.Client{Transport: c.transport}
}

func (c *httpClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.CloseIdleConnections()
}

// classifyError maps transport failures onto the error taxonomy.
func classifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := raerrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return raerrors.IndexingTimeout(backend+" did not answer in time", err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return raerrors.BackendUnavailable(backend+" is unreachable", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return raerrors.IndexingTimeout(backend+" did not answer in time", err)
		}
		return raerrors.BackendUnavailable(backend+" is unreachable", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return raerrors.BackendUnavailable(backend+" is unreachable", err)
	}
	return raerrors.BackendUnavailable(backend+" request failed", err)
}

// statusError maps a non-200 response. Overload and server errors are
// retryable; other client errors are not.
func statusError(backend string, status int, body string) error {
	msg := fmt.Sprintf("%s returned status %d: %s", backend, status, body)
	if status == http.StatusTooManyRequests || status >= 500 {
		return raerrors.BackendUnavailable(msg, nil).WithDetail("status", fmt.Sprint(status))
	}
	return raerrors.New(raerrors.ErrCodeBackendResponse, msg, nil).WithDetail("status", fmt.Sprint(status))
}
