package graph

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given test server URL
// with a static token and no retry delays.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, StaticToken("test-token"), nil)
	c.sleepFunc = noopSleep

	return c
}

func TestDo_SetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodPost, "/x", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_RetriesServerErrorsAndResendsBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body), "body is resent on every attempt")

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodPatch, "/x", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_UnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("request-id", "req-1")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	require.ErrorIs(t, err, ErrUnauthorized)

	var gErr *GraphError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, http.StatusUnauthorized, gErr.StatusCode)
	assert.Equal(t, "req-1", gErr.RequestID)
	assert.Equal(t, "InvalidAuthenticationToken", gErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	require.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_NetworkErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Do(context.Background(), http.MethodGet, "/x", nil)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.sleepFunc = timeSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, http.MethodGet, "/x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryBackoff_HonorsRetryAfter(t *testing.T) {
	c := newTestClient(t, "http://unused")

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, c.retryBackoff(resp, 0))

	resp.Header.Set("Retry-After", "99999")
	assert.Equal(t, maxBackoff, c.retryBackoff(resp, 0))
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := newTestClient(t, "http://unused")

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestWithToken_DoesNotMutateOriginal(t *testing.T) {
	c := newTestClient(t, "http://unused")
	cp := c.WithToken(StaticToken("other"))

	tok, _ := c.token.Token()
	assert.Equal(t, "test-token", tok)

	tok, _ = cp.token.Token()
	assert.Equal(t, "other", tok)
}

func TestClassifyStatus(t *testing.T) {
	tests := map[int]error{
		400: ErrBadRequest,
		401: ErrUnauthorized,
		403: ErrForbidden,
		404: ErrNotFound,
		409: ErrConflict,
		412: ErrPrecondition,
		416: ErrRangeNotSatisfiable,
		423: ErrLocked,
		429: ErrThrottled,
		500: ErrServerError,
		503: ErrServerError,
	}

	for code, want := range tests {
		assert.True(t, errors.Is(classifyStatus(code), want), "status %d", code)
	}

	assert.Nil(t, classifyStatus(200))
}
