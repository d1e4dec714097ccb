package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/json"
	"github.com/tornflow/tornflow/pkg/metrics"
)

// RawResponse is the unordered JSON tree returned by one API call
type RawResponse map[string]interface{}

// keyPlaceholder is substituted with the credential in URL templates
const keyPlaceholder = "{key}"

// keyParam is the credential query parameter on upstream URLs
const keyParam = "key"

// ClientConfig configures the API client
type ClientConfig struct {
	// Timeouts
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`

	// MinRequestInterval is the per-credential pacing interval
	MinRequestInterval time.Duration `json:"min_request_interval"`

	// MaxPages caps any pagination loop; 0 means unbounded
	MaxPages int `json:"max_pages"`

	// CursorPath is the dotted metadata path holding the next-page URL
	CursorPath string `json:"cursor_path"`

	// EnableHTTP2 upgrades the transport when the server supports it
	EnableHTTP2 bool `json:"enable_http2"`

	UserAgent string `json:"user_agent"`
}

// DefaultClientConfig returns the defaults used in production
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:     10 * time.Second,
		ReadTimeout:        30 * time.Second,
		MinRequestInterval: time.Second,
		MaxPages:           100,
		CursorPath:         "_metadata.next",
		EnableHTTP2:        true,
		UserAgent:          "tornflow/1.0",
	}
}

// Client fetches raw nested response trees from the upstream API with
// per-credential pacing, bounded retry and error classification.
// Credentials never appear verbatim in logs or surfaced errors.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	creds      *config.CredentialStore
	pacer      *Pacer
	retry      *RetryPolicy
	logger     *zap.Logger

	totalRequests  int64
	failedRequests int64
}

// NewClient creates an API client
func NewClient(cfg ClientConfig, creds *config.CredentialStore, retry *RetryPolicy, logger *zap.Logger) *Client {
	if cfg.CursorPath == "" {
		cfg.CursorPath = "_metadata.next"
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		creds:  creds,
		pacer:  NewPacer(cfg.MinRequestInterval),
		retry:  retry,
		logger: logger.With(zap.String("component", "api_client")),
	}
}

// Pacer exposes the per-credential pacer (shared with backfill loops)
func (c *Client) Pacer() *Pacer {
	return c.pacer
}

// Fetch performs a single authenticated GET against the endpoint's URL
// template and returns the decoded response tree.
func (c *Client) Fetch(ctx context.Context, endpoint *config.Endpoint, credName string) (RawResponse, error) {
	key, err := c.creds.Get(credName)
	if err != nil {
		return nil, err
	}

	reqURL, err := c.buildURL(endpoint.URL, key)
	if err != nil {
		return nil, err
	}

	return c.fetchURL(ctx, reqURL, credName)
}

// PaginationConfig controls FetchAll's cursor loop
type PaginationConfig struct {
	// CursorPath overrides the client-wide metadata path when set
	CursorPath string
	// MaxPages caps the loop; 0 falls back to the client config
	MaxPages int
	// IdentifierKey names a payload field holding identifier-keyed rows.
	// When set, a page contributing zero previously-unseen identifiers
	// terminates the loop (used for unbounded historical feeds).
	IdentifierKey string
}

// FetchAll fetches and merges pages until no cursor remains, the page
// cap is hit, or (when an identifier key is declared) a page yields
// nothing new. List-valued fields merge by concatenation, map-valued
// fields by key union.
func (c *Client) FetchAll(ctx context.Context, endpoint *config.Endpoint, credName string, pg PaginationConfig) (RawResponse, error) {
	key, err := c.creds.Get(credName)
	if err != nil {
		return nil, err
	}

	cursorPath := pg.CursorPath
	if cursorPath == "" {
		cursorPath = c.cfg.CursorPath
	}
	maxPages := pg.MaxPages
	if maxPages == 0 {
		maxPages = c.cfg.MaxPages
	}

	reqURL, err := c.buildURL(endpoint.URL, key)
	if err != nil {
		return nil, err
	}

	acc := RawResponse{}
	seen := make(map[string]bool)

	for page := 1; ; page++ {
		raw, err := c.fetchURL(ctx, reqURL, credName)
		if err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), "page "+itoa(page))
		}

		newIDs := countNewIdentifiers(raw, pg.IdentifierKey, seen)
		mergeResponses(acc, raw)

		cursor, _ := lookupPath(raw, cursorPath).(string)

		c.logger.Debug("fetched page",
			zap.String("endpoint", endpoint.Name),
			zap.Int("page", page),
			zap.Int("new_identifiers", newIDs),
			zap.Bool("has_cursor", cursor != ""))

		if cursor == "" {
			return acc, nil
		}
		if pg.IdentifierKey != "" && newIDs == 0 {
			return acc, nil
		}
		if maxPages > 0 && page >= maxPages {
			c.logger.Warn("pagination stopped at page cap",
				zap.String("endpoint", endpoint.Name),
				zap.Int("max_pages", maxPages))
			return acc, nil
		}

		reqURL, err = c.nextPageURL(cursor, key)
		if err != nil {
			return nil, err
		}
	}
}

// fetchURL performs one paced, retried GET and decodes the body
func (c *Client) fetchURL(ctx context.Context, reqURL, credName string) (RawResponse, error) {
	var (
		raw     RawResponse
		attempt int
	)

	err := c.retry.ExecuteWithCondition(ctx, func() error {
		if err := c.pacer.Wait(ctx, credName); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}

		attempt++
		var err error
		raw, err = c.doRequest(ctx, reqURL)
		if err != nil && attempt > 1 {
			metrics.APIRetries.WithLabelValues(string(errors.TypeOf(err))).Inc()
		}
		return err
	}, errors.IsRetryable)

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, c.maskError(err)
	}
	return raw, nil
}

// doRequest issues one GET and classifies every failure mode
func (c *Client) doRequest(ctx context.Context, reqURL string) (RawResponse, error) {
	atomic.AddInt64(&c.totalRequests, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var raw RawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAPI, "malformed JSON response")
	}

	if apiErr := extractAPIError(raw); apiErr != nil {
		return nil, apiErr
	}

	return raw, nil
}

// buildURL substitutes the credential into the URL template. Templates
// use a {key} placeholder; templates without one get a key query
// parameter set.
func (c *Client) buildURL(template, key string) (string, error) {
	if strings.Contains(template, keyPlaceholder) {
		return strings.ReplaceAll(template, keyPlaceholder, key), nil
	}
	// URL rewrites may have percent-encoded the placeholder
	if encoded := url.QueryEscape(keyPlaceholder); strings.Contains(template, encoded) {
		return strings.ReplaceAll(template, encoded, key), nil
	}

	u, err := url.Parse(template)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid endpoint url")
	}
	q := u.Query()
	q.Set(keyParam, key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// nextPageURL takes an upstream-supplied cursor URL and replaces its
// credential parameter with ours, so the key is never appended twice.
func (c *Client) nextPageURL(cursor, key string) (string, error) {
	u, err := url.Parse(cursor)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAPI, "invalid pagination cursor")
	}
	q := u.Query()
	q.Set(keyParam, key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// maskError scrubs credential material from an error before it leaves
// the client.
func (c *Client) maskError(err error) error {
	if err == nil {
		return nil
	}

	var e *errors.Error
	if ok := asError(err, &e); ok {
		e.Message = c.creds.Mask(e.Message)
		if e.Cause != nil {
			e.Cause = maskedCause{msg: c.creds.Mask(e.Cause.Error())}
		}
		return e
	}
	return errors.New(errors.ErrorTypeInternal, c.creds.Mask(err.Error()))
}

// maskedCause replaces an underlying error whose text contained a
// credential. The original is dropped rather than risk leaking it
// through Unwrap chains.
type maskedCause struct {
	msg string
}

func (m maskedCause) Error() string { return m.msg }

// Stats reports request counters
func (c *Client) Stats() (total, failed int64) {
	return atomic.LoadInt64(&c.totalRequests), atomic.LoadInt64(&c.failedRequests)
}
