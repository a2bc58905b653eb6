package transcriber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"livenotes/segment"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini summarizes chunks with a single GenerateContent call carrying the
// audio inline and a JSON response schema.
type Gemini struct {
	client      *genai.Client
	model       string
	instruction string
	schema      *genai.Schema
}

// newGeminiClient builds a Gemini API client. A non-empty baseURL replaces
// the public endpoint; Live sessions dial it with a ws or wss scheme.
func newGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return client, nil
}

func NewGemini(ctx context.Context, apiKey, baseURL, model, instruction string) (*Gemini, error) {
	client, err := newGeminiClient(ctx, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	schema, err := schemaFor[modelSummary]()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return &Gemini{
		client:      client,
		model:       model,
		instruction: instruction,
		schema:      geminiSchema(schema),
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Summarize(ctx context.Context, chunk segment.Chunk, c Context) (*Result, error) {
	start := time.Now()
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromText(chunkPrompt(c)),
			genai.NewPartFromBytes(chunk.Data, chunk.MIMEType),
		},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(g.instruction)}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    g.schema,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &RequestError{Provider: g.Name(), StatusCode: apiErr.Code, Err: apiErr}
		}
		return nil, requestError(g.Name(), err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &MalformedResponseError{Provider: g.Name(), Err: errors.New("no candidates")}
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	result, err := parseModelSummary(g.Name(), sb.String())
	if err != nil {
		return nil, err
	}
	result.Metrics = &NetworkMetrics{Total: time.Since(start)}
	return result, nil
}
