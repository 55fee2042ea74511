package ingest

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/qaforge/internal/config"
	"github.com/sells-group/qaforge/internal/resilience"
	"github.com/sells-group/qaforge/pkg/jina"
)

const defaultMaxBytes = 64 << 20

// BinaryExtractor reads text out of formats the local extractors cannot
// handle, such as PDFs and images.
type BinaryExtractor interface {
	ExtractBinary(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Basic is the default Cleaner. Sources are cleaned concurrently and a
// failing source is logged and dropped without affecting the others.
type Basic struct {
	reader        jina.Client
	ftp           *ftpFetcher
	binary        BinaryExtractor
	retry         resilience.RetryConfig
	maxConcurrent int
}

// BasicOption configures a Basic cleaner.
type BasicOption func(*Basic)

// WithReader sets the web page reader used for http(s) sources.
func WithReader(r jina.Client) BasicOption {
	return func(b *Basic) { b.reader = r }
}

// WithBinaryExtractor sets the fallback for binary files.
func WithBinaryExtractor(x BinaryExtractor) BasicOption {
	return func(b *Basic) { b.binary = x }
}

// WithRetry sets the retry policy for remote fetches.
func WithRetry(cfg resilience.RetryConfig) BasicOption {
	return func(b *Basic) { b.retry = cfg }
}

// WithMaxConcurrent bounds how many sources are cleaned at once.
func WithMaxConcurrent(n int) BasicOption {
	return func(b *Basic) { b.maxConcurrent = n }
}

// WithFTPTimeout sets the FTP dial timeout.
func WithFTPTimeout(d time.Duration) BasicOption {
	return func(b *Basic) { b.ftp.timeout = d }
}

// NewBasic creates a Basic cleaner.
func NewBasic(opts ...BasicOption) *Basic {
	b := &Basic{
		ftp:           &ftpFetcher{timeout: 30 * time.Second, maxBytes: defaultMaxBytes},
		retry:         resilience.DefaultRetryConfig(),
		maxConcurrent: 4,
	}
	for _, o := range opts {
		o(b)
	}
	if b.maxConcurrent <= 0 {
		b.maxConcurrent = 1
	}
	return b
}

// NewBasicFromConfig wires a Basic cleaner from configuration.
func NewBasicFromConfig(cfg *config.Config, binary BinaryExtractor) *Basic {
	var jopts []jina.Option
	if cfg.Ingest.JinaBaseURL != "" {
		jopts = append(jopts, jina.WithBaseURL(cfg.Ingest.JinaBaseURL))
	}
	timeout := time.Duration(cfg.Ingest.TimeoutSecs) * time.Second
	opts := []BasicOption{
		WithReader(jina.NewClient(cfg.Ingest.JinaKey, jopts...)),
		WithRetry(resilience.RetryFromConfig(cfg.Resilience.Retry)),
		WithMaxConcurrent(cfg.Ingest.MaxConcurrent),
	}
	if timeout > 0 {
		opts = append(opts, WithFTPTimeout(timeout))
	}
	if binary != nil {
		opts = append(opts, WithBinaryExtractor(binary))
	}
	return NewBasic(opts...)
}

// Clean implements Cleaner. Only cancellation of ctx is returned as an error.
func (b *Basic) Clean(ctx context.Context, sources []Source) ([]string, error) {
	cleaned := make([]string, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrent)
	for i, src := range sources {
		g.Go(func() error {
			text, err := b.cleanOne(gctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				zap.L().Warn("ingest: source skipped",
					zap.String("source", src.Label()),
					zap.Error(err),
				)
				return nil
			}
			cleaned[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ingest: clean sources")
	}

	out := make([]string, 0, len(cleaned))
	for _, t := range cleaned {
		if t != "" {
			out = append(out, t)
		}
	}
	zap.L().Info("ingest: sources cleaned",
		zap.Int("sources", len(sources)),
		zap.Int("usable", len(out)),
	)
	return out, nil
}

func (b *Basic) cleanOne(ctx context.Context, src Source) (string, error) {
	var (
		text string
		err  error
	)
	switch src.Kind {
	case KindText:
		text = src.Text
	case KindFile:
		text, err = b.file(ctx, src.Name, src.MIME, src.Data)
	case KindURL:
		text, err = b.url(ctx, src.Name)
	default:
		err = eris.Errorf("ingest: unknown source kind %q", src.Kind)
	}
	if err != nil {
		return "", err
	}
	text = Normalize(text)
	if text == "" {
		return "", eris.New("ingest: source has no text")
	}
	return text, nil
}

func (b *Basic) file(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", eris.New("ingest: empty file")
	}
	text, err := Extract(name, mimeType, data)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, ErrUnsupported) || b.binary == nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = sniffMIME(name, data)
	}
	return b.binary.ExtractBinary(ctx, name, mimeType, data)
}

func (b *Basic) url(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", eris.Errorf("ingest: invalid url %q", raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return b.readPage(ctx, raw)
	case "ftp":
		data, err := resilience.DoVal(ctx, b.retry, func(ctx context.Context) ([]byte, error) {
			return b.ftp.fetch(ctx, raw)
		})
		if err != nil {
			return "", err
		}
		return b.file(ctx, u.Path, "", data)
	default:
		return "", eris.Errorf("ingest: unsupported url scheme %q", u.Scheme)
	}
}

func (b *Basic) readPage(ctx context.Context, raw string) (string, error) {
	if b.reader == nil {
		return "", eris.New("ingest: no web reader configured")
	}
	resp, err := resilience.DoVal(ctx, b.retry, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := b.reader.Read(ctx, raw)
		if err != nil {
			var apiErr *jina.APIError
			if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
				return nil, resilience.NewTransientError(err, apiErr.StatusCode)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "ingest: read %s", raw)
	}
	if blockedPage(resp) {
		return "", eris.Errorf("ingest: %s returned a blocked or empty page", raw)
	}
	content := resp.Data.Content
	if title := strings.TrimSpace(resp.Data.Title); title != "" && !strings.Contains(content, title) {
		content = "# " + title + "\n\n" + content
	}
	return content, nil
}
