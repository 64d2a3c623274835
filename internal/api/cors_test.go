package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler is a simple handler that returns 200 OK.
var stubHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantOrigin string
		wantCode   int
	}{
		{"no origins configured", nil, "GET", "https://example.com", "", http.StatusOK},
		{"no origin header", []string{"https://example.com"}, "GET", "", "", http.StatusOK},
		{"allowed origin", []string{"https://ops.example.com"}, "GET", "https://ops.example.com", "https://ops.example.com", http.StatusOK},
		{"disallowed origin", []string{"https://ops.example.com"}, "GET", "https://evil.com", "", http.StatusOK},
		{"preflight", []string{"https://ops.example.com"}, "OPTIONS", "https://ops.example.com", "https://ops.example.com", http.StatusNoContent},
		{"wildcard", []string{"*"}, "GET", "https://any.example.com", "https://any.example.com", http.StatusOK},
		{"second of two", []string{"https://one.example.com", "https://two.example.com"}, "GET", "https://two.example.com", "https://two.example.com", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: Config{CORSAllowedOrigins: tt.allowed}}
			req := httptest.NewRequest(tt.method, "/v1/sync/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			s.CORSMiddleware(stubHandler).ServeHTTP(w, req)

			require.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantOrigin != "" {
				assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestWebsocketOrigins(t *testing.T) {
	got := websocketOrigins([]string{"https://ops.example.com", "*", "localhost:3000"})
	assert.Equal(t, []string{"ops.example.com", "*", "localhost:3000"}, got)
}
