package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini runs analyses through Google's Generative AI API. Images and
// PDFs go up as inline blobs; everything else is inlined as text after
// the prompt.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Analyze implements Provider.
func (g *Gemini) Analyze(ctx context.Context, in Input) (*Output, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.1)

	prompt := PromptFor(in.AnalysisType, in.CustomPrompt)
	parts, err := buildParts(prompt, in)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Kind: KindInvalidInput, Err: err}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Kind: classify(err), Err: err}
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Kind: KindMalformed, Err: err}
	}

	structured, entities, dates, amounts := ParseStructured(text)
	out := &Output{
		RawText:           text,
		Summary:           Summarize(text, 500),
		StructuredData:    structured,
		ExtractedEntities: entities,
		ExtractedDates:    dates,
		ExtractedAmounts:  amounts,
		QualityFlags:      QualityFlags(in.AnalysisType, structured),
		ModelVersion:      g.model,
	}
	if resp.UsageMetadata != nil {
		tokens := int(resp.UsageMetadata.TotalTokenCount)
		out.TokensUsed = &tokens
	}
	return out, nil
}

func buildParts(prompt string, in Input) ([]genai.Part, error) {
	switch {
	case strings.HasPrefix(in.MIMEType, "image/") || in.MIMEType == "application/pdf":
		return []genai.Part{
			genai.Text(prompt),
			genai.Blob{MIMEType: in.MIMEType, Data: in.Data},
		}, nil
	case strings.HasPrefix(in.MIMEType, "text/") || in.MIMEType == "application/json" || in.MIMEType == "":
		return []genai.Part{
			genai.Text(prompt + "\n\nDocument content:\n" + string(in.Data)),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported media type %q", in.MIMEType)
	}
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// classify maps transport errors onto retry classes.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return KindRateLimited
		case 401, 403:
			return KindAuth
		case 400, 413, 415:
			return KindInvalidInput
		}
	}
	return KindTimeout
}
