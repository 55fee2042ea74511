package ingest

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/llm"
)

const extractInstruction = "Extract all readable text from the attached document. " +
	"Return only the text content, preserving headings and paragraph breaks. " +
	"Do not summarize, translate or add commentary."

// LLMClient sends one request with key failover.
type LLMClient interface {
	Do(ctx context.Context, req llm.Request, excl *keypool.Exclusions) (*llm.Completion, error)
}

// LLMExtractor reads binary documents by sending them inline to a
// multimodal provider. Calls carry binary content and so use the shorter
// binary timeout. Key exclusions come from the run carried by the context
// (keypool.WithExclusions); without one each call starts with every key.
type LLMExtractor struct {
	client   LLMClient
	provider string
}

var inlineMIME = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/heic":      true,
	"text/rtf":        true,
}

// NewLLMExtractor creates an extractor that uses provider for every call.
func NewLLMExtractor(client LLMClient, provider string) *LLMExtractor {
	return &LLMExtractor{client: client, provider: provider}
}

// ExtractBinary implements BinaryExtractor.
func (x *LLMExtractor) ExtractBinary(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if !inlineMIME[mimeType] {
		return "", eris.Wrapf(ErrUnsupported, "%q (%s)", name, mimeType)
	}
	temp := 0.0
	c, err := x.client.Do(ctx, llm.Request{
		Provider: x.provider,
		Messages: []llm.Message{llm.UserBlob(mimeType, data, extractInstruction)},
		Options:  llm.Options{Temperature: &temp},
		Stage:    "preprocess",
	}, keypool.ExclusionsFrom(ctx))
	if err != nil {
		return "", eris.Wrapf(err, "ingest: extract %s", name)
	}
	return c.Text, nil
}

// sniffMIME guesses a content type from the extension, then the bytes.
func sniffMIME(name string, data []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".rtf":
		return "text/rtf"
	}
	mt := http.DetectContentType(data)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}
