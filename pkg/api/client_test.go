package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/errors"
)

const testKey = "abcdef1234567890"

func testClient(t *testing.T, retry *RetryPolicy) *Client {
	t.Helper()
	creds, err := config.NewCredentialStore(map[string]string{"default": testKey})
	require.NoError(t, err)

	cfg := DefaultClientConfig()
	cfg.MinRequestInterval = time.Millisecond
	cfg.EnableHTTP2 = false
	return NewClient(cfg, creds, retry, zap.NewNop())
}

func testEndpoint(url string) *config.Endpoint {
	return &config.Endpoint{
		Name:        "test",
		Kind:        "test",
		URL:         url,
		Table:       "p.d.t",
		Frequency:   "PT15M",
		StorageMode: config.StorageModeReplace,
	}
}

func TestFetchSubstitutesKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		fmt.Fprint(w, `{"points":{"buy":45000}}`)
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	raw, err := c.Fetch(context.Background(), testEndpoint(server.URL+"/points?key={key}"), "")
	require.NoError(t, err)

	assert.Equal(t, testKey, gotKey)
	points, ok := raw["points"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(45000), points["buy"])
}

func TestFetchClassifiesHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorType
	}{
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{http.StatusUnauthorized, errors.ErrorTypeCredential},
		{http.StatusForbidden, errors.ErrorTypeCredential},
		{http.StatusInternalServerError, errors.ErrorTypeConnection},
		{http.StatusBadRequest, errors.ErrorTypeAPI},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := testClient(t, NoRetryPolicy())
			_, err := c.Fetch(context.Background(), testEndpoint(server.URL+"?key={key}"), "")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want),
				"status %d should map to %s, got %s", tt.status, tt.want, errors.TypeOf(err))
		})
	}
}

func TestFetchClassifiesInBandErrorCodes(t *testing.T) {
	tests := []struct {
		code int
		want errors.ErrorType
	}{
		{1, errors.ErrorTypeCredential},
		{2, errors.ErrorTypeCredential},
		{10, errors.ErrorTypeCredential},
		{5, errors.ErrorTypeRateLimit},
		{8, errors.ErrorTypeRateLimit},
		{99, errors.ErrorTypeAPI},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"error":{"code":%d,"error":"upstream says no"}}`, tt.code)
			}))
			defer server.Close()

			c := testClient(t, NoRetryPolicy())
			_, err := c.Fetch(context.Background(), testEndpoint(server.URL+"?key={key}"), "")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want))
		})
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	c := testClient(t, fastPolicy(3))
	raw, err := c.Fetch(context.Background(), testEndpoint(server.URL+"?key={key}"), "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, true, raw["ok"])
}

func TestFetchDoesNotRetryCredentialErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"error":{"code":2,"error":"Incorrect key"}}`)
	}))
	defer server.Close()

	c := testClient(t, fastPolicy(5))
	_, err := c.Fetch(context.Background(), testEndpoint(server.URL+"?key={key}"), "")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestErrorsNeverContainCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom: "+r.URL.String(), http.StatusBadRequest)
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	_, err := c.Fetch(context.Background(), testEndpoint(server.URL+"?key={key}"), "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey)
}

func TestFetchAllFollowsCursor(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.URL.Query().Get("key"), "cursor URLs carry exactly one key")

		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprintf(w, `{"crimes":{"1":{"name":"a"},"2":{"name":"b"}},"_metadata":{"next":"%s?page=2"}}`, server.URL)
		case "2":
			fmt.Fprint(w, `{"crimes":{"3":{"name":"c"}},"_metadata":{}}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	raw, err := c.FetchAll(context.Background(), testEndpoint(server.URL+"?key={key}"), "", PaginationConfig{})
	require.NoError(t, err)

	crimes, ok := raw["crimes"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, crimes, 3, "map payloads merge by key union across pages")
}

func TestFetchAllConcatenatesListPayloads(t *testing.T) {
	var server *httptest.Server
	page := int32(0)
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&page, 1) {
		case 1:
			fmt.Fprintf(w, `{"logs":[{"id":1},{"id":2}],"_metadata":{"next":"%s?page=2"}}`, server.URL)
		default:
			fmt.Fprint(w, `{"logs":[{"id":3}]}`)
		}
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	raw, err := c.FetchAll(context.Background(), testEndpoint(server.URL+"?key={key}"), "", PaginationConfig{})
	require.NoError(t, err)

	logs, ok := raw["logs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, logs, 3, "list payloads concatenate across pages")
}

func TestFetchAllStopsAtPageCap(t *testing.T) {
	var server *httptest.Server
	var calls int32
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		// Always hand back fresh ids and a cursor
		fmt.Fprintf(w, `{"crimes":{"%d":{"name":"x"}},"_metadata":{"next":"%s?page=%d"}}`, n, server.URL, n+1)
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	_, err := c.FetchAll(context.Background(), testEndpoint(server.URL+"?key={key}"), "", PaginationConfig{MaxPages: 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchAllStopsWhenNoNewIdentifiers(t *testing.T) {
	var server *httptest.Server
	var calls int32
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// Same identifiers on every page, cursor never disappears
		fmt.Fprintf(w, `{"crimes":{"1":{"name":"a"}},"_metadata":{"next":"%s?again=1"}}`, server.URL)
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	_, err := c.FetchAll(context.Background(), testEndpoint(server.URL+"?key={key}"), "",
		PaginationConfig{IdentifierKey: "crimes", MaxPages: 50})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls),
		"the first page with zero unseen identifiers ends the loop")
}

func TestFetchWindowedWalksBackward(t *testing.T) {
	var windows []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("from")
		windows = append(windows, from)
		switch len(windows) {
		case 1:
			fmt.Fprint(w, `{"crimes":{"10":{"name":"recent"}}}`)
		case 2:
			fmt.Fprint(w, `{"crimes":{"9":{"name":"older"}}}`)
		default:
			// Nothing new: history exhausted
			fmt.Fprint(w, `{"crimes":{"9":{"name":"older"}}}`)
		}
	}))
	defer server.Close()

	c := testClient(t, NoRetryPolicy())
	ref := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	raw, err := c.FetchWindowed(context.Background(), testEndpoint(server.URL+"?key={key}"), "", ref,
		WindowConfig{IdentifierKey: "crimes"})
	require.NoError(t, err)

	assert.Len(t, windows, 3, "walks until a window adds nothing")
	crimes := raw["crimes"].(map[string]interface{})
	assert.Len(t, crimes, 2)

	// Windows step backward by the window width
	assert.NotEqual(t, windows[0], windows[1])
}

func TestFetchWindowedRequiresIdentifierKey(t *testing.T) {
	c := testClient(t, NoRetryPolicy())
	_, err := c.FetchWindowed(context.Background(), testEndpoint("https://x?key={key}"), "", time.Now(), WindowConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
