package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/gorilla/websocket"

	"livenotes/log"
)

// WebSocket streams frames to a relay service speaking a small JSON protocol:
// a setup message first, then binary PCM frames out and typed JSON messages in.
type WebSocket struct {
	url    string
	header http.Header
	dialer websocket.Dialer
}

func NewWebSocket(url, apiKey string) *WebSocket {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	return &WebSocket{
		url:    url,
		header: header,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (w *WebSocket) Name() string { return "websocket" }

type wsTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type wsSetup struct {
	Type              string   `json:"type"`
	Model             string   `json:"model,omitempty"`
	SystemInstruction string   `json:"systemInstruction"`
	MIMEType          string   `json:"mimeType"`
	Tools             []wsTool `json:"tools"`
}

type wsMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Topic string `json:"topic,omitempty"`
	Error string `json:"error,omitempty"`
}

func (w *WebSocket) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	schema, err := schemaFor[addTopicArgs]()
	if err != nil {
		return nil, err
	}
	instruction := cfg.Instruction
	if instruction == "" {
		instruction = DefaultInstruction + streamInstructionSuffix
	}

	start := time.Now()
	conn, _, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		return nil, fmt.Errorf("%w: %s dial: %v", ErrStreamingSession, w.Name(), err)
	}

	setup := wsSetup{
		Type:              "setup",
		Model:             cfg.Model,
		SystemInstruction: instruction,
		MIMEType:          cfg.MIMEType,
		Tools: []wsTool{{
			Name:        AddTopicTool,
			Description: "Start a new topic in the notes.",
			Parameters:  schema,
		}},
	}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s setup: %v", ErrStreamingSession, w.Name(), err)
	}
	return newStreamSession(w.Name(), &wsRaw{conn: conn}, time.Since(start)), nil
}

type wsRaw struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (r *wsRaw) Send(frame []byte, _ string) error {
	return r.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (r *wsRaw) Recv() ([]Event, error) {
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return []Event{{Kind: EventEnd}}, nil
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("websocket: ignoring malformed message: %v", err)
			continue
		}
		switch strings.ToLower(msg.Type) {
		case "text":
			return []Event{{Kind: EventText, Text: msg.Text}}, nil
		case "addtopic", AddTopicTool:
			return []Event{{Kind: EventTopic, Topic: strings.TrimSpace(msg.Topic)}}, nil
		case "end":
			return []Event{{Kind: EventEnd}}, nil
		case "error":
			return nil, errors.New(msg.Error)
		}
	}
}

func (r *wsRaw) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = r.conn.Close()
	})
	return err
}
