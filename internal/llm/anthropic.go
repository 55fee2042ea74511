package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sells-group/qaforge/internal/config"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/resilience"
	"github.com/sells-group/qaforge/pkg/anthropic"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider adapts pkg/anthropic to Provider. It accepts text only.
type AnthropicProvider struct {
	model     string
	newClient func(key string) anthropic.Client
}

// NewAnthropicProvider builds the adapter. hc is shared by every per-key client.
func NewAnthropicProvider(cfg config.ProviderConfig, hc *http.Client) *AnthropicProvider {
	var opts []anthropic.Option
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if hc != nil {
		opts = append(opts, anthropic.WithHTTPClient(hc))
	}
	return &AnthropicProvider{
		model: cfg.Model,
		newClient: func(key string) anthropic.Client {
			return anthropic.NewClient(key, opts...)
		},
	}
}

// Name implements Provider.
func (a *AnthropicProvider) Name() string { return keypool.Anthropic }

// Send implements Provider.
func (a *AnthropicProvider) Send(ctx context.Context, req Request, cred keypool.Credential) (*Completion, error) {
	if req.HasBinary() {
		return nil, resilience.NewFailure(resilience.KindBadRequest, 0, "anthropic adapter does not accept binary parts", nil)
	}

	msgReq := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   anthropicDefaultMaxTokens,
		System:      req.System,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
	}
	if msgReq.Model == "" {
		msgReq.Model = a.model
	}
	if req.Options.MaxTokens > 0 {
		msgReq.MaxTokens = int64(req.Options.MaxTokens)
	}
	if req.Options.TopK != nil {
		k := int64(*req.Options.TopK)
		msgReq.TopK = &k
	}
	for _, m := range req.Messages {
		var b strings.Builder
		for _, p := range m.Parts {
			b.WriteString(p.Text)
		}
		msgReq.Messages = append(msgReq.Messages, anthropic.Message{Role: string(m.Role), Content: b.String()})
	}

	resp, err := a.newClient(cred.Key).CreateMessage(ctx, msgReq)
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.FromResponse(apiErr.StatusCode, apiErr.Message, apiErr)
		}
		return nil, resilience.FromResponse(0, "", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, resilience.NewFailure(resilience.KindUnknown, 0, "empty response, stop reason "+resp.StopReason, nil)
	}
	return &Completion{
		Text:         text,
		FinishReason: resp.StopReason,
		Truncated:    resp.StopReason == "max_tokens",
		Model:        resp.Model,
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			Calls:        1,
		},
	}, nil
}
