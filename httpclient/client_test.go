package httpclient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessionForegroundApp/start", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chrome", body["appName"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Config{ServerURL: srv.URL + "/"})
	err := c.PostJSON(t.Context(), "/sessionForegroundApp/start", "tok", map[string]string{"appName": "chrome"})
	assert.NoError(t, err)
}

func TestNoAuthorizationWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(Config{ServerURL: srv.URL}).PostJSON(t.Context(), "/x", "", struct{}{}))
}

func TestStatusErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status       int
		unauthorized bool
		prefix       string
	}{
		{http.StatusUnauthorized, true, "client error 401"},
		{http.StatusForbidden, true, "client error 403"},
		{http.StatusBadRequest, false, "client error 400"},
		{http.StatusBadGateway, false, "server error 502"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewClient(Config{ServerURL: srv.URL}).PostJSON(t.Context(), "/x", "tok", nil)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.unauthorized, statusErr.Unauthorized())
			assert.True(t, strings.HasPrefix(err.Error(), tt.prefix), err.Error())
			assert.Equal(t, "nope", statusErr.Body)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDoJSONDecodesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{"backendAddress":"http://collector"}`)
	}))
	defer srv.Close()

	var out struct {
		BackendAddress string `json:"backendAddress"`
	}
	err := NewClient(Config{ServerURL: srv.URL}).DoJSON(t.Context(), http.MethodGet, "/v1/backend-address", "", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "http://collector", out.BackendAddress)
}

func TestPostMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "multipart/form-data; boundary=xyz", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(data))
	}))
	defer srv.Close()

	err := NewClient(Config{ServerURL: srv.URL}).PostMultipart(t.Context(), "/screenshots/upload", "tok",
		strings.NewReader("payload"), "multipart/form-data; boundary=xyz")
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(Config{ServerURL: srv.URL}).Ping(t.Context()))

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	assert.NoError(t, NewClient(Config{ServerURL: missing.URL}).Ping(t.Context()), "a 404 still proves the server answers")

	srv.Close()
	assert.ErrorContains(t, NewClient(Config{ServerURL: srv.URL}).Ping(t.Context()), "ping failed")
}
