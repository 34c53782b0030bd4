package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type revokedSet map[string]bool

func (s revokedSet) Exists(_ context.Context, key string) (bool, error) {
	return s[key], nil
}

type brokenRevocations struct{}

func (brokenRevocations) Exists(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(recorder, request)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	revoked := revokedSet{RevokedTokenPrefix + "old-token": true}
	cases := []struct {
		name     string
		required string
		header   string
		checker  RevocationChecker
		want     int
	}{
		{"disabled", "", "", revoked, http.StatusOK},
		{"valid token", "secret", "Bearer secret", revoked, http.StatusOK},
		{"missing header", "secret", "", revoked, http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer nope", revoked, http.StatusUnauthorized},
		{"revoked token", "old-token", "Bearer old-token", revoked, http.StatusUnauthorized},
		{"revocation store down", "secret", "Bearer secret", brokenRevocations{}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
			if tc.header != "" {
				request.Header.Set("Authorization", tc.header)
			}
			recorder := serve(Auth(tc.required, tc.checker, zerolog.Nop())(okHandler()), request)
			assert.Equal(t, tc.want, recorder.Code)
		})
	}
}

func TestRequireOwner(t *testing.T) {
	var seen string
	handler := RequireOwner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetOwnerID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	recorder := serve(handler, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	body := decodeError(t, recorder)
	assert.Equal(t, "unauthorized", body.Error.Kind)
	assert.NotEmpty(t, body.RequestID)

	request = httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	request.Header.Set(OwnerHeader, " user-7 ")
	recorder = serve(handler, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "user-7", seen)
}

func TestRateLimitPerOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 1, 2)(okHandler())

	statuses := make([]int, 0, 4)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		request.Header.Set(OwnerHeader, "user-1")
		statuses = append(statuses, serve(handler, request).Code)
	}
	other := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	other.Header.Set(OwnerHeader, "user-2")
	statuses = append(statuses, serve(handler, other).Code)

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusOK}, statuses)
}

func TestRequestIDPropagation(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("X-Request-Id", "req-123")
	recorder := serve(okHandler(), request)
	assert.Equal(t, "req-123", recorder.Header().Get("X-Request-Id"))

	recorder = serve(okHandler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, recorder.Header().Get("X-Request-Id"), 36)
}

func TestRequestIDReplacesUnprintableValues(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("X-Request-Id", "has spaces\tand tabs")
	recorder := serve(okHandler(), request)
	assert.NotEqual(t, "has spaces\tand tabs", recorder.Header().Get("X-Request-Id"))
	assert.Len(t, recorder.Header().Get("X-Request-Id"), 36)
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 0.5, 1)(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	assert.Equal(t, http.StatusOK, serve(handler, first).Code)

	second := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	second.RemoteAddr = "10.0.0.1:5001"
	recorder := serve(handler, second)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, "2", recorder.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, recorder).Error.Kind)
}
