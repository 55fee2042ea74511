package ingest

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qaforge/pkg/jina"
)

func TestBlockedPage(t *testing.T) {
	page := func(code int, content string) *jina.ReadResponse {
		return &jina.ReadResponse{Code: code, Data: jina.ReadData{Content: content}}
	}

	tests := []struct {
		name string
		resp *jina.ReadResponse
		want bool
	}{
		{"nil", nil, true},
		{"reader error code", page(451, "Some content"), true},
		{"empty", page(200, "   \n"), true},
		{"cloudflare challenge", page(200, "Just a moment... Checking your browser before accessing."), true},
		{"access denied", page(200, "Access Denied\nYou don't have permission."), true},
		{"real content", page(200, "Our refund policy allows returns within 30 days."), false},
		{"zero code treated as ok", page(0, "Plain page"), false},
		{"long page mentioning cloudflare", page(200, strings.Repeat("We host on Cloudflare. ", 60)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blockedPage(tt.resp))
		})
	}
}

func TestBasic_SkipsChallengePages(t *testing.T) {
	reader := jinaServer(t, func(w http.ResponseWriter, target string) {
		if strings.Contains(target, "guarded") {
			writePage(w, "Attention Required!", "Please enable cookies. Cloudflare Ray ID: 1234")
			return
		}
		writePage(w, "", "Open content.")
	})

	got, err := NewBasic(WithReader(reader), WithRetry(fastRetry())).Clean(context.Background(), []Source{
		URLSource("https://guarded.example.com"),
		URLSource("https://open.example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Open content."}, got)
}
