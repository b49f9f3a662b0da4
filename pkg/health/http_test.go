package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker_RemoteRespondingOKIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Positive(t, result.Duration)
}

func TestHTTPChecker_RemoteRespondingServerErrorIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPChecker_CustomStatusRangeAcceptsNonDefaultSuccessCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithStatusRange(200, 299).Check(context.Background())
	assert.True(t, result.Healthy)
}

func TestHTTPChecker_CustomHeaderIsSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithHeader("X-Api-Key", "secret").Check(context.Background())
	assert.True(t, result.Healthy)
}

func TestHTTPChecker_SlowRemoteExceedsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithTimeout(50 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPChecker_CancelledContextIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPChecker(server.URL).Check(ctx)
	assert.False(t, result.Healthy)
}

func TestHTTPChecker_Type(t *testing.T) {
	assert.Equal(t, CheckTypeHTTP, NewHTTPChecker("http://example.com").Type())
}

func TestStatus_UpdateTracksConsecutiveFailuresBeforeFlippingUnhealthy(t *testing.T) {
	cfg := Config{Retries: 2}
	status := NewStatus()

	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.True(t, status.Healthy, "a single failure must not flip the verdict below the retry threshold")

	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.False(t, status.Healthy)

	status.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	assert.True(t, status.Healthy, "a single success clears the unhealthy verdict")
}
