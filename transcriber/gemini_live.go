package transcriber

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"livenotes/log"
)

const DefaultGeminiLiveModel = "gemini-live-2.5-flash-preview"

// GeminiLive streams raw PCM frames into a Gemini Live session and maps
// text parts and addNewTopic calls to events.
type GeminiLive struct {
	client *genai.Client
	model  string
}

func NewGeminiLive(ctx context.Context, apiKey, baseURL, model string) (*GeminiLive, error) {
	client, err := newGeminiClient(ctx, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiLiveModel
	}
	return &GeminiLive{client: client, model: model}, nil
}

func (g *GeminiLive) Name() string { return "gemini-live" }

func addTopicDeclaration() (*genai.FunctionDeclaration, error) {
	schema, err := schemaFor[addTopicArgs]()
	if err != nil {
		return nil, err
	}
	return &genai.FunctionDeclaration{
		Name:        AddTopicTool,
		Description: "Start a new topic in the notes when the discussion moves to a new subject.",
		Parameters:  geminiSchema(schema),
	}, nil
}

func (g *GeminiLive) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	decl, err := addTopicDeclaration()
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = g.model
	}
	instruction := cfg.Instruction
	if instruction == "" {
		instruction = DefaultInstruction + streamInstructionSuffix
	}

	start := time.Now()
	session, err := g.client.Live.Connect(ctx, model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		SystemInstruction:  &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(instruction)}},
		Tools:              []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{decl}}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s connect: %v", ErrStreamingSession, g.Name(), err)
	}
	return newStreamSession(g.Name(), &geminiLiveRaw{session: session}, time.Since(start)), nil
}

type geminiLiveRaw struct {
	session *genai.Session

	// writeMu serializes writes: the sender streams frames while the
	// receiver answers tool calls on the same connection.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (r *geminiLiveRaw) Send(frame []byte, mimeType string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: frame, MIMEType: mimeType},
	})
}

func (r *geminiLiveRaw) sendToolResponse(responses []*genai.FunctionResponse) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
}

func (r *geminiLiveRaw) Recv() ([]Event, error) {
	msg, err := r.session.Receive()
	if err != nil {
		return nil, err
	}
	events := liveEvents(msg)

	if msg.ToolCall != nil {
		var responses []*genai.FunctionResponse
		for _, fc := range msg.ToolCall.FunctionCalls {
			responses = append(responses, &genai.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: map[string]any{"output": "ok"},
			})
		}
		if len(responses) > 0 {
			if err := r.sendToolResponse(responses); err != nil {
				log.Warnf("gemini-live: tool response: %v", err)
			}
		}
	}
	return events, nil
}

// liveEvents maps one server message to events.
func liveEvents(msg *genai.LiveServerMessage) []Event {
	var events []Event
	if sc := msg.ServerContent; sc != nil && sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p != nil && p.Text != "" {
				events = append(events, Event{Kind: EventText, Text: p.Text})
			}
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil || fc.Name != AddTopicTool {
				continue
			}
			if topic, _ := fc.Args["topic"].(string); strings.TrimSpace(topic) != "" {
				events = append(events, Event{Kind: EventTopic, Topic: strings.TrimSpace(topic)})
			}
		}
	}
	if msg.GoAway != nil {
		events = append(events, Event{Kind: EventEnd})
	}
	return events
}

func (r *geminiLiveRaw) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.session.Close() })
	return r.closeErr
}
