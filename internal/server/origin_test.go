package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestNormalizeOrigins(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	normalized, allowAll := normalizeOrigins([]string{
		" HTTP://Example.COM ",
		"",
		"not a url",
		"https://chat.example:8443",
	}, log)

	require.False(t, allowAll)
	require.Equal(t, []string{"http://example.com", "https://chat.example:8443"}, normalized)

	_, allowAll = normalizeOrigins([]string{"*"}, log)
	require.True(t, allowAll)
}

func TestOriginPolicy_CheckOrigin(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080"}, slog.New(slog.DiscardHandler))

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact match", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "HTTP://LOCALHOST:8080", want: true},
		{name: "different port", origin: "http://localhost:9090", want: false},
		{name: "different host", origin: "http://evil.example", want: false},
		{name: "missing origin", origin: "", want: false},
		{name: "garbage origin", origin: "::::", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, policy.checkOrigin(requestWithOrigin(tt.origin)))
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, slog.New(slog.DiscardHandler))

	require.True(t, policy.checkOrigin(requestWithOrigin("https://anywhere.example")))
	require.False(t, policy.checkOrigin(requestWithOrigin("")))
}
