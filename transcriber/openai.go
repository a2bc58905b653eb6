package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"livenotes/segment"
)

const (
	DefaultOpenAITranscribeModel = "gpt-4o-transcribe"
	DefaultOpenAIChatModel       = "gpt-4o-mini"
)

// OpenAI transcribes each chunk and then asks a chat model to turn the
// transcript into commentary with a JSON-schema response.
type OpenAI struct {
	client          openai.Client
	transcribeModel string
	chatModel       string
	instruction     string
	schema          any
}

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	Instruction     string
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	schema, err := schemaFor[modelSummary]()
	if err != nil {
		return nil, err
	}
	o := &OpenAI{
		client:          openai.NewClient(opts...),
		transcribeModel: cfg.TranscribeModel,
		chatModel:       cfg.ChatModel,
		instruction:     cfg.Instruction,
		schema:          schema,
	}
	if o.transcribeModel == "" {
		o.transcribeModel = DefaultOpenAITranscribeModel
	}
	if o.chatModel == "" {
		o.chatModel = DefaultOpenAIChatModel
	}
	if o.instruction == "" {
		o.instruction = DefaultInstruction
	}
	return o, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Summarize(ctx context.Context, chunk segment.Chunk, c Context) (*Result, error) {
	start := time.Now()
	tr, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(chunk.Data), fmt.Sprintf("chunk-%d.%s", chunk.Seq, fileExt(chunk.MIMEType)), chunk.MIMEType),
		Model: openai.AudioModel(o.transcribeModel),
	})
	if err != nil {
		return nil, o.apiError(err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return &Result{
			Commentary: SilenceMarker,
			Status:     StatusSuccess,
			Metrics:    &NetworkMetrics{Total: time.Since(start)},
		}, nil
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.instruction),
			openai.UserMessage(chunkPrompt(c) + "\n\nTranscript of the audio:\n" + text),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "commentary",
					Schema: o.schema,
					Strict: param.NewOpt(true),
				},
			},
		},
	})
	if err != nil {
		return nil, o.apiError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &MalformedResponseError{Provider: o.Name(), Err: errors.New("no choices")}
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, &RequestError{Provider: o.Name(), Message: "refused: " + msg.Refusal}
	}

	result, err := parseModelSummary(o.Name(), msg.Content)
	if err != nil {
		return nil, err
	}
	result.Metrics = &NetworkMetrics{Total: time.Since(start)}
	return result, nil
}

func (o *OpenAI) apiError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &RequestError{Provider: o.Name(), StatusCode: apiErr.StatusCode, Err: err}
	}
	return requestError(o.Name(), err)
}
