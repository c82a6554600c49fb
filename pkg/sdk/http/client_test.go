package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cosmos/bank/v1beta1/balances/bze1a", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("pagination.limit"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balances":[{"denom":"ubze","amount":"5"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	var out struct {
		Balances []struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"balances"`
	}
	err := c.GetJSON(context.Background(), "/cosmos/bank/v1beta1/balances/bze1a", map[string]any{"pagination.limit": 100}, &out)
	require.NoError(t, err)
	require.Len(t, out.Balances, 1)
	assert.Equal(t, "ubze", out.Balances[0].Denom)
}

func TestGetJSON_NonSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":5,"message":"not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.GetJSON(context.Background(), "/missing", nil, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "4xx is not retried")
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClientWithOptions(srv.URL, Options{RetryCount: 3, RetryWaitTime: time.Millisecond})
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/flaky", nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDoRequest_UnsupportedMethod(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.DoRequest(context.Background(), "PATCH", "/x", nil, nil)
	assert.Error(t, err)
}
