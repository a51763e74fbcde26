package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/log"
	"github.com/CZERTAINLY/cipher-lens/internal/model"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultURL = "https://ciphersuite.info/api/cs/"
	// payloads larger than this are rejected
	maxPayload = 32 << 20
)

// Client downloads the catalog from ciphersuite.info compatible API.
// A failed attempt is retried exactly once after a pause, each attempt
// is bounded by the timeout.
type Client struct {
	url     string
	client  *http.Client
	timeout time.Duration
	pause   time.Duration
}

func NewClient(url string) Client {
	if url == "" {
		url = DefaultURL
	}
	return Client{
		url:     url,
		client:  &http.Client{},
		timeout: 30 * time.Second,
		pause:   time.Second,
	}
}

func (c Client) WithTimeout(timeout time.Duration) Client {
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

func (c Client) WithHTTPClient(client *http.Client) Client {
	c.client = client
	return c
}

// WithPause sets the delay before the retry
func (c Client) WithPause(pause time.Duration) Client {
	c.pause = pause
	return c
}

// Fetch implements Fetcher. All errors wrap model.ErrClassificationUnavailable.
func (c Client) Fetch(ctx context.Context) (StrengthMap, error) {
	ctx = log.ContextAttrs(ctx, slog.String("url", c.url))

	var ret StrengthMap
	attempt := 0
	op := func() error {
		attempt++
		m, err := c.fetch(ctx)
		if err != nil {
			slog.WarnContext(ctx, "fetching cipher suite catalog failed", "attempt", attempt, "error", err)
			return err
		}
		ret = m
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.pause), 1),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, model.ErrClassificationUnavailable) {
			return StrengthMap{}, err
		}
		return StrengthMap{}, fmt.Errorf("%w: %w", model.ErrClassificationUnavailable, err)
	}
	slog.DebugContext(ctx, "cipher suite catalog fetched", "entries", ret.Len(), "attempts", attempt)
	return ret, nil
}

func (c Client) fetch(ctx context.Context) (StrengthMap, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return StrengthMap{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return StrengthMap{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return StrengthMap{}, fmt.Errorf("%w: status code: %d", model.ErrClassificationUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return StrengthMap{}, backoff.Permanent(fmt.Errorf("%w: status code: %d", model.ErrClassificationUnavailable, resp.StatusCode))
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return StrengthMap{}, backoff.Permanent(fmt.Errorf("%w: failed to parse response content type header: %w", model.ErrClassificationUnavailable, err))
	}
	if contentType != "application/json" {
		return StrengthMap{}, backoff.Permanent(fmt.Errorf("%w: expected `application/json` content type, got: %s", model.ErrClassificationUnavailable, contentType))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return StrengthMap{}, err
	}

	m, err := Decode(b)
	if err != nil {
		return StrengthMap{}, backoff.Permanent(err)
	}
	return m, nil
}
