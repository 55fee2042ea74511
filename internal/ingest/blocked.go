package ingest

import (
	"strings"

	"github.com/sells-group/qaforge/pkg/jina"
)

// challengeSignatures mark bot-check and error pages that a reader returns
// in place of real content.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// blockedPage reports whether a reader response carries no usable content:
// a non-200 reader code, an empty body, or a short challenge page.
func blockedPage(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if content == "" {
		return true
	}
	if len(content) >= 1000 {
		return false
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
