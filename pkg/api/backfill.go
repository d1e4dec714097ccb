package api

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/errors"
)

// WindowConfig controls the sliding-window historical fetch
type WindowConfig struct {
	// Width of one window; defaults to 7 days
	Width time.Duration
	// FromParam / ToParam are the query parameters carrying the window
	// bounds as epoch seconds; default "from" / "to"
	FromParam string
	ToParam   string
	// IdentifierKey names the payload field whose identifiers decide
	// when history is exhausted. Required: without it the walk has no
	// termination signal.
	IdentifierKey string
	// MaxWindows caps the walk; 0 means unbounded
	MaxWindows int
	// Pagination applies inside each window
	Pagination PaginationConfig
}

// FetchWindowed walks fixed-width time windows backward from the
// reference time, fetching each fully paginated, and stops at the first
// window that contributes no previously-unseen identifiers. Results
// merge across windows the same way pages merge within one.
func (c *Client) FetchWindowed(ctx context.Context, endpoint *config.Endpoint, credName string, ref time.Time, wc WindowConfig) (RawResponse, error) {
	if wc.IdentifierKey == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "windowed fetch requires an identifier key")
	}
	if wc.Width <= 0 {
		wc.Width = 7 * 24 * time.Hour
	}
	if wc.FromParam == "" {
		wc.FromParam = "from"
	}
	if wc.ToParam == "" {
		wc.ToParam = "to"
	}

	pg := wc.Pagination
	pg.IdentifierKey = wc.IdentifierKey

	acc := RawResponse{}
	seen := make(map[string]bool)
	to := ref

	for window := 1; ; window++ {
		from := to.Add(-wc.Width)

		winEndpoint := *endpoint
		winURL, err := windowURL(endpoint.URL, wc.FromParam, wc.ToParam, from, to)
		if err != nil {
			return nil, err
		}
		winEndpoint.URL = winURL

		raw, err := c.FetchAll(ctx, &winEndpoint, credName, pg)
		if err != nil {
			return nil, err
		}

		fresh := countNewIdentifiers(raw, wc.IdentifierKey, seen)
		mergeResponses(acc, raw)

		c.logger.Debug("fetched backfill window",
			zap.String("endpoint", endpoint.Name),
			zap.Int("window", window),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Int("new_identifiers", fresh))

		if fresh == 0 {
			return acc, nil
		}
		if wc.MaxWindows > 0 && window >= wc.MaxWindows {
			c.logger.Warn("backfill stopped at window cap",
				zap.String("endpoint", endpoint.Name),
				zap.Int("max_windows", wc.MaxWindows))
			return acc, nil
		}

		to = from
	}
}

// windowURL sets the window-bound query parameters on the endpoint URL
// template, preserving the {key} placeholder for later substitution.
func windowURL(template, fromParam, toParam string, from, to time.Time) (string, error) {
	u, err := url.Parse(template)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid endpoint url")
	}
	q := u.Query()
	q.Set(fromParam, strconv.FormatInt(from.Unix(), 10))
	q.Set(toParam, strconv.FormatInt(to.Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
