package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirectTo simulates the browser following the provider's redirect.
func redirectTo(t *testing.T, recv *LoopbackReceiver, query string) func(string) error {
	t.Helper()

	return func(string) error {
		resp, err := http.Get("http://" + recv.BoundAddr() + DefaultRedirectPath + "?" + query)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}
}

func TestLoopbackReceiver_ReturnsCodeAndState(t *testing.T) {
	recv := &LoopbackReceiver{Port: 0}
	recv.OpenURL = redirectTo(t, recv, "code=abc&state=xyz")

	code, state, err := recv.ObtainAuthorizationCode(context.Background(), "https://example.test/authorize")
	require.NoError(t, err)
	assert.Equal(t, "abc", code)
	assert.Equal(t, "xyz", state)
	assert.Empty(t, recv.BoundAddr(), "listener is shut down after one response")
}

func TestLoopbackReceiver_ProviderError(t *testing.T) {
	recv := &LoopbackReceiver{Port: 0}
	recv.OpenURL = redirectTo(t, recv, "error=access_denied&error_description=nope")

	_, _, err := recv.ObtainAuthorizationCode(context.Background(), "https://example.test/authorize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestLoopbackReceiver_MissingCode(t *testing.T) {
	recv := &LoopbackReceiver{Port: 0}
	recv.OpenURL = redirectTo(t, recv, "state=xyz")

	_, _, err := recv.ObtainAuthorizationCode(context.Background(), "https://example.test/authorize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing authorization code")
}

func TestLoopbackReceiver_PrintsURLWhenBrowserFails(t *testing.T) {
	var out bytes.Buffer

	recv := &LoopbackReceiver{Port: 0, Out: &out}
	recv.OpenURL = func(string) error { return errors.New("no browser") }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, err := recv.ObtainAuthorizationCode(ctx, "https://example.test/authorize?x=1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out.String(), "https://example.test/authorize?x=1")
}

func TestLoopbackReceiver_RedirectURL(t *testing.T) {
	recv := NewLoopbackReceiver(nil, nil)
	assert.Equal(t, "http://localhost:3003/redirect", recv.RedirectURL())
}
