package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestThrottle(cfg ThrottleConfig, now *time.Time) http.Handler {
	t := newThrottle(cfg)
	t.now = func() time.Time { return *now }
	return throttleMiddleware(t)(okHandler())
}

func doRequest(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestThrottle_BurstThenRefuse(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestThrottle(ThrottleConfig{RPS: 1, Burst: 3}, &now)

	for i := range 3 {
		w := doRequest(h, "10.0.0.1:1234", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doRequest(h, "10.0.0.1:1234", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())
}

func TestThrottle_Refills(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestThrottle(ThrottleConfig{RPS: 0.5, Burst: 1}, &now)

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", nil).Code)
	w := doRequest(h, "10.0.0.1:1", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", nil).Code)
}

func TestThrottle_ClientsAreIndependent(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newTestThrottle(ThrottleConfig{RPS: 1, Burst: 1}, &now)

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1", nil).Code)

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", map[string]string{"X-User-ID": "alice"}).Code)
}

func TestThrottle_Cleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	th := newThrottle(ThrottleConfig{RPS: 1, Burst: 1, IdleTTL: time.Minute})
	th.now = func() time.Time { return now }

	_, ok := th.reserve("a")
	require.True(t, ok)
	now = now.Add(2 * time.Minute)
	_, ok = th.reserve("b")
	require.True(t, ok)

	th.cleanup()

	th.mu.Lock()
	defer th.mu.Unlock()
	assert.NotContains(t, th.buckets, "a")
	assert.Contains(t, th.buckets, "b")
}

func TestDefaultKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "user header", headers: map[string]string{"X-User-ID": "u1", "X-Real-IP": "1.1.1.1"}, remoteAddr: "9.9.9.9:1", want: "user:u1"},
		{name: "forwarded list", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, remoteAddr: "9.9.9.9:1", want: "1.2.3.4"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "2.2.2.2"}, remoteAddr: "9.9.9.9:1", want: "2.2.2.2"},
		{name: "remote addr", remoteAddr: "9.9.9.9:1", want: "9.9.9.9"},
		{name: "remote addr without port", remoteAddr: "9.9.9.9", want: "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, defaultKeyFunc(req))
		})
	}
}
