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
	"github.com/sells-group/qaforge/pkg/openrouter"
)

// onlineSuffix asks OpenRouter to run the model with web search.
const onlineSuffix = ":online"

// OpenRouterProvider adapts pkg/openrouter to Provider.
type OpenRouterProvider struct {
	model     string
	newClient func(key string) openrouter.Client
}

// NewOpenRouterProvider builds the adapter. hc is shared by every per-key client.
func NewOpenRouterProvider(cfg config.ProviderConfig, hc *http.Client) *OpenRouterProvider {
	var opts []openrouter.Option
	if cfg.BaseURL != "" {
		opts = append(opts, openrouter.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openrouter.WithModel(cfg.Model))
	}
	if cfg.Referer != "" || cfg.Title != "" {
		opts = append(opts, openrouter.WithAttribution(cfg.Referer, cfg.Title))
	}
	if hc != nil {
		opts = append(opts, openrouter.WithHTTPClient(hc))
	}
	return &OpenRouterProvider{
		model: cfg.Model,
		newClient: func(key string) openrouter.Client {
			return openrouter.NewClient(key, opts...)
		},
	}
}

// Name implements Provider.
func (o *OpenRouterProvider) Name() string { return keypool.OpenRouter }

// Send implements Provider.
func (o *OpenRouterProvider) Send(ctx context.Context, req Request, cred keypool.Credential) (*Completion, error) {
	chat := toOpenRouterRequest(req, o.model)

	resp, err := o.newClient(cred.Key).ChatCompletion(ctx, chat)
	if err != nil {
		var apiErr *openrouter.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.FromResponse(apiErr.StatusCode, apiErr.Message, apiErr)
		}
		return nil, resilience.FromResponse(0, "", err)
	}

	text := resp.Text()
	finish := resp.FinishReason()
	if strings.TrimSpace(text) == "" {
		if finish == "content_filter" {
			return nil, resilience.NewFailure(resilience.KindSafetyBlocked, 0, "response blocked: SAFETY (content_filter)", nil)
		}
		return nil, resilience.NewFailure(resilience.KindUnknown, 0, "empty response, finish reason "+finish, nil)
	}

	modelID := resp.Model
	if modelID == "" {
		modelID = chat.Model
	}
	return &Completion{
		Text:         text,
		FinishReason: finish,
		Truncated:    finish == "length",
		Model:        modelID,
		Usage: model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
			Calls:        1,
		},
	}, nil
}

func toOpenRouterRequest(req Request, defaultModel string) openrouter.ChatCompletionRequest {
	modelID := req.Model
	if modelID == "" {
		modelID = defaultModel
	}
	if req.Wants(ToolWebSearch) && modelID != "" && !strings.HasSuffix(modelID, onlineSuffix) {
		modelID += onlineSuffix
	}

	out := openrouter.ChatCompletionRequest{
		Model:       modelID,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		TopK:        req.Options.TopK,
	}
	if req.Options.MaxTokens > 0 {
		n := req.Options.MaxTokens
		out.MaxTokens = &n
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openrouter.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openrouter.Message{Role: string(m.Role), Content: openRouterContent(m.Parts)})
	}
	return out
}

func openRouterContent(parts []Part) any {
	if len(parts) == 1 && !parts[0].IsBinary() {
		return parts[0].Text
	}
	out := make([]openrouter.ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.IsBinary() {
			out = append(out, openrouter.DataPart(p.MIMEType, p.Data))
			continue
		}
		out = append(out, openrouter.TextPart(p.Text))
	}
	return out
}
