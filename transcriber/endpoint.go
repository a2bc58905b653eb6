package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"livenotes/segment"
)

// Endpoint posts each chunk as multipart form data to an HTTP summarization
// service.
type Endpoint struct {
	client *TracedClient
	url    string
	apiKey string
}

func NewEndpoint(url, apiKey string) *Endpoint {
	return &Endpoint{
		client: NewTracedClient(),
		url:    url,
		apiKey: apiKey,
	}
}

func (e *Endpoint) Name() string { return "endpoint" }

// Warm pre-establishes the connection to the service.
func (e *Endpoint) Warm(ctx context.Context) { e.client.WarmConnection(ctx, e.url) }

func (e *Endpoint) Summarize(ctx context.Context, chunk segment.Chunk, c Context) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="chunk-%d.%s"`, chunk.Seq, fileExt(chunk.MIMEType)))
	h.Set("Content-Type", chunk.MIMEType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return nil, err
	}
	writer.WriteField("commentary", c.JoinedCommentary())
	if len(c.Topics) > 0 {
		writer.WriteField("topics", c.TopicsJSON())
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, requestError(e.Name(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{
			Provider:   e.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(resp.Body)),
		}
	}

	var reply endpointReply
	if err := unmarshalJSON(resp.Body, &reply); err != nil {
		return nil, &MalformedResponseError{Provider: e.Name(), Body: string(resp.Body), Err: err}
	}
	if reply.Status == StatusError {
		return nil, &RequestError{Provider: e.Name(), StatusCode: resp.StatusCode, Message: reply.Error}
	}

	result := &Result{
		Commentary: reply.Commentary,
		Status:     StatusSuccess,
		Metrics:    resp.Metrics,
	}
	if reply.NewTopic != nil {
		result.NewTopic = strings.TrimSpace(*reply.NewTopic)
	}
	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests", "x-ratelimit-remaining")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests", "x-ratelimit-limit")
	if remaining != "?" || limit != "?" {
		result.RateLimit = remaining + "/" + limit
	}
	return result, nil
}
