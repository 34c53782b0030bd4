package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const frontendOrigin = "https://app.docpipe.dev"

func corsHandler(cfg CORSConfig, reached *bool) http.Handler {
	return CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	reached := false
	handler := corsHandler(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &reached)

	request := httptest.NewRequest(http.MethodOptions, "/v1/documents", nil)
	request.Header.Set("Origin", "HTTPS://APP.DOCPIPE.DEV")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.False(t, reached)
	assert.Equal(t, "HTTPS://APP.DOCPIPE.DEV", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, recorder.Header().Get("Access-Control-Allow-Headers"), "X-Owner-Id")
	assert.Equal(t, "600", recorder.Header().Get("Access-Control-Max-Age"))
}

func TestCORSActualRequestExposesRequestID(t *testing.T) {
	reached := false
	handler := corsHandler(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &reached)

	request := httptest.NewRequest(http.MethodPost, "/v1/documents", nil)
	request.Header.Set("Origin", frontendOrigin)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.True(t, reached)
	assert.Equal(t, frontendOrigin, recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, recorder.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
}

func TestCORSWildcardOrigin(t *testing.T) {
	reached := false
	handler := corsHandler(CORSConfig{AllowedOrigins: []string{" * "}}, &reached)

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("Origin", "https://anything.example")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.True(t, reached)
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSIgnoresDisallowedOrigin(t *testing.T) {
	reached := false
	handler := corsHandler(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &reached)

	request := httptest.NewRequest(http.MethodOptions, "/v1/documents", nil)
	request.Header.Set("Origin", "https://evil.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}
