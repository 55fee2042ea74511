package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/sells-group/qaforge/internal/config"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/resilience"
	"github.com/sells-group/qaforge/pkg/gemini"
)

// GeminiProvider adapts pkg/gemini to Provider.
type GeminiProvider struct {
	model     string
	newClient func(key string) gemini.Client
}

// NewGeminiProvider builds the adapter. hc is shared by every per-key client.
func NewGeminiProvider(cfg config.ProviderConfig, hc *http.Client) *GeminiProvider {
	var opts []gemini.Option
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}
	if hc != nil {
		opts = append(opts, gemini.WithHTTPClient(hc))
	}
	return &GeminiProvider{
		model: cfg.Model,
		newClient: func(key string) gemini.Client {
			return gemini.NewClient(key, opts...)
		},
	}
}

// Name implements Provider.
func (g *GeminiProvider) Name() string { return keypool.Gemini }

// Send implements Provider.
func (g *GeminiProvider) Send(ctx context.Context, req Request, cred keypool.Credential) (*Completion, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = g.model
	}

	resp, err := g.newClient(cred.Key).GenerateContent(ctx, modelID, toGeminiRequest(req))
	if err != nil {
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if apiErr.Status != "" {
				msg = apiErr.Status + ": " + msg
			}
			return nil, resilience.FromResponse(apiErr.StatusCode, msg, apiErr)
		}
		return nil, resilience.FromResponse(0, "", err)
	}

	if reason := resp.BlockReason(); reason != "" {
		return nil, resilience.NewFailure(resilience.KindSafetyBlocked, 0, "prompt blocked: "+reason, nil)
	}
	text := resp.Text()
	finish := resp.FinishReason()
	if text == "" {
		if finish == gemini.FinishSafety {
			return nil, resilience.NewFailure(resilience.KindSafetyBlocked, 0, "response blocked: SAFETY", nil)
		}
		return nil, resilience.NewFailure(resilience.KindUnknown, 0, "empty response, finish reason "+finish, nil)
	}

	c := &Completion{
		Text:         text,
		FinishReason: finish,
		Truncated:    finish == gemini.FinishMaxTokens,
		Model:        modelID,
		Usage: model.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
			Calls:        1,
		},
	}
	if resp.ModelVersion != "" {
		c.Model = resp.ModelVersion
	}
	if gm := resp.Grounding(); gm != nil {
		c.SearchQueries = gm.WebSearchQueries
		for _, chunk := range gm.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				c.Grounding = append(c.Grounding, model.GroundingSource{Title: chunk.Web.Title, URI: chunk.Web.URI})
			}
		}
	}
	return c, nil
}

func toGeminiRequest(req Request) gemini.GenerateContentRequest {
	out := gemini.GenerateContentRequest{}
	if req.System != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		content := gemini.Content{Role: role}
		for _, p := range m.Parts {
			if p.IsBinary() {
				content.Parts = append(content.Parts, gemini.Part{InlineData: &gemini.Blob{MimeType: p.MIMEType, Data: p.Data}})
				continue
			}
			content.Parts = append(content.Parts, gemini.Part{Text: p.Text})
		}
		out.Contents = append(out.Contents, content)
	}

	o := req.Options
	if o.Temperature != nil || o.MaxTokens > 0 || o.TopP != nil || o.TopK != nil {
		gc := &gemini.GenerationConfig{Temperature: o.Temperature, TopP: o.TopP, TopK: o.TopK}
		if o.MaxTokens > 0 {
			n := o.MaxTokens
			gc.MaxOutputTokens = &n
		}
		out.GenerationConfig = gc
	}
	if req.Wants(ToolWebSearch) {
		out.Tools = []gemini.Tool{{GoogleSearch: &gemini.GoogleSearch{}}}
	}
	return out
}
