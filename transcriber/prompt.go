package transcriber

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"google.golang.org/genai"
)

const AddTopicTool = "addNewTopic"

const DefaultInstruction = `You are taking live notes of a meeting or talk from its audio.
For each piece of audio, write a short commentary of what is being said, as
complete sentences that continue the notes so far. Do not repeat earlier notes.
If nothing intelligible is said, reply with exactly ` + SilenceMarker + `.
When the discussion clearly moves to a new subject that is not among the
existing topics, announce it with a short title (two to five words).`

const streamInstructionSuffix = `
Call the ` + AddTopicTool + ` function with the title whenever a new subject starts.`

// modelSummary is the structured reply asked of generative backends.
type modelSummary struct {
	Commentary string `json:"commentary" jsonschema:"new commentary for this audio, or [SILENCE]"`
	NewTopic   string `json:"newTopic" jsonschema:"title of a new subject that starts here, empty if none"`
}

// endpointReply is the wire format of the HTTP summarization endpoint.
type endpointReply struct {
	Status     Status  `json:"status"`
	Commentary string  `json:"commentary"`
	NewTopic   *string `json:"newTopic"`
	Error      string  `json:"error"`
}

type addTopicArgs struct {
	Topic string `json:"topic" jsonschema:"short title of the new subject"`
}

func chunkPrompt(c Context) string {
	var b strings.Builder
	if len(c.Topics) > 0 {
		fmt.Fprintf(&b, "Existing topics: %s\n", c.TopicsJSON())
	}
	if len(c.Commentary) > 0 {
		fmt.Fprintf(&b, "Notes so far:\n%s\n", c.JoinedCommentary())
	} else {
		b.WriteString("No notes yet.\n")
	}
	b.WriteString("Write the commentary for the attached audio.")
	return b.String()
}

// unmarshalJSON unmarshals data into v, repairing it first when it is not
// valid JSON.
func unmarshalJSON(data []byte, v any) error {
	data = []byte(trimFence(string(data)))
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		fixed, err := jsonrepair.JSONRepair(string(data))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// trimFence strips a markdown code fence around a JSON reply.
func trimFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "```"))
}

func parseModelSummary(provider, text string) (*Result, error) {
	var s modelSummary
	if err := unmarshalJSON([]byte(text), &s); err != nil {
		return nil, &MalformedResponseError{Provider: provider, Body: text, Err: err}
	}
	return &Result{
		Commentary: s.Commentary,
		NewTopic:   strings.TrimSpace(s.NewTopic),
		Status:     StatusSuccess,
	}, nil
}

func schemaFor[T any]() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, err
	}
	// Strict structured outputs want additionalProperties: false.
	s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	return s, nil
}

func geminiSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}

	enums := make([]string, 0, len(schema.Enum))
	for _, v := range schema.Enum {
		enums = append(enums, fmt.Sprintf("%v", v))
	}

	gs := genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Enum:        enums,
		Items:       geminiSchema(schema.Items),
		Required:    schema.Required,
	}
	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = geminiSchema(prop)
		}
	}
	switch schema.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return &gs
}

func fileExt(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/flac":
		return "flac"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/pcm", "audio/l16":
		return "pcm"
	case "audio/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	}
	return "bin"
}
