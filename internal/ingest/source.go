// Package ingest turns raw sources (pasted text, uploaded files and URLs)
// into plain text for the generation pipeline.
package ingest

import (
	"context"
	"path"
	"strings"
)

// Kind is where a source's content comes from.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
	KindURL  Kind = "url"
)

// Source is one input to clean. Files carry Data, text carries Text and
// URLs carry the address in Name.
type Source struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	Data []byte `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
	MIME string `json:"mime,omitempty"`
}

// TextSource wraps pasted text.
func TextSource(name, text string) Source {
	return Source{Kind: KindText, Name: name, Text: text}
}

// FileSource wraps an uploaded file.
func FileSource(name string, data []byte, mime string) Source {
	return Source{Kind: KindFile, Name: name, Data: data, MIME: mime}
}

// URLSource wraps a web or FTP address.
func URLSource(u string) Source {
	return Source{Kind: KindURL, Name: strings.TrimSpace(u)}
}

// Ext is the lowercased file extension of the source name.
func (s Source) Ext() string {
	return strings.ToLower(path.Ext(s.Name))
}

// Label identifies the source in logs.
func (s Source) Label() string {
	if s.Name != "" {
		return string(s.Kind) + ":" + s.Name
	}
	return string(s.Kind)
}

// Cleaner turns sources into plain texts. Sources that yield nothing are
// dropped, so the result may be shorter than the input.
type Cleaner interface {
	Clean(ctx context.Context, sources []Source) ([]string, error)
}

// Separator joins cleaned texts into one document.
const Separator = "\n\n---\n\n"

// Combine joins non-empty texts with Separator.
func Combine(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, Separator)
}
