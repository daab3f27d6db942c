package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/anchor-remit-go/errors"
)

func TestClientDoesNotRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient()
	_, err := client.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.UNREACHABLE))
	assert.True(t, errors.Retryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesServerErrorsWhenConfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(WithMaxRetries(3), WithRetryBackoff(time.Millisecond))
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientReturnsClientErrorsWithoutFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid amount"}`))
	}))
	defer srv.Close()

	resp, err := NewClient().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	msg, _ := resp.AnchorError()
	assert.Equal(t, "invalid amount", msg)
}

func TestClientSendsBearerAndRequestID(t *testing.T) {
	var gotAuth, gotID, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(RequestIDHeader)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := ContextWithRequestID(context.Background(), "req-1")
	resp, err := NewClient().PostJSON(ctx, srv.URL, map[string]string{"a": "b"}, WithBearer("tok"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "req-1", gotID)
	assert.Equal(t, "application/json", gotType)
}

func TestClientClassifiesCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(WithMaxRetries(5)).Get(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CANCELLED))
	assert.False(t, errors.Retryable(err))
}

func TestClientClassifiesDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient().Get(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.TIMEOUT))
}

func TestClientUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient().Get(context.Background(), url+"/?account=GSECRET")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.UNREACHABLE))
	assert.NotContains(t, err.(*errors.StellarConnectError).Message, "GSECRET")
}

func TestCircuitBreakerOpensPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(WithCircuitBreaker(2, time.Hour))
	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), srv.URL)
		require.True(t, errors.IsCode(err, errors.UNREACHABLE))
	}

	_, err := client.Get(context.Background(), srv.URL)
	assert.True(t, errors.IsCode(err, errors.CIRCUIT_OPEN))
}

func TestMetricsCountOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := NewMetrics(nil)
	client := NewClient(WithMetrics(metrics))

	for _, path := range []string{"/ok", "/ok", "/missing"} {
		resp, err := client.Get(context.Background(), srv.URL+path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Requests().WithLabelValues(host, http.MethodGet, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests().WithLabelValues(host, http.MethodGet, "client_error")))
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(WithRateLimit(0.001, 1))
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.TIMEOUT))
}
