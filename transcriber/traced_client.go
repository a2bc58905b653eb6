package transcriber

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"livenotes/log"
)

const (
	userAgent    = "livenotes"
	maxReplySize = 1 << 20
	warmTimeout  = 5 * time.Second
)

// TracedClient is an HTTP client that records per-request network timings.
type TracedClient struct {
	client *http.Client
}

func NewTracedClient() *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// requestTrace collects the phase timestamps of one request.
type requestTrace struct {
	m NetworkMetrics

	getConn, dns, tcp, tlsStart      time.Time
	gotConn, wroteHeaders, wroteBody time.Time
	firstByte                        time.Time
}

func (t *requestTrace) hooks() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { t.getConn = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			t.gotConn = time.Now()
			t.m.ConnWait = t.gotConn.Sub(t.getConn)
			t.m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { t.dns = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { t.m.DNS = time.Since(t.dns) },
		ConnectStart:      func(_, _ string) { t.tcp = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { t.m.TCP = time.Since(t.tcp) },
		TLSHandshakeStart: func() { t.tlsStart = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			t.m.TLS = time.Since(t.tlsStart)
			t.m.TLSProtocol = tls.VersionName(cs.Version)
		},
		WroteHeaders: func() {
			t.wroteHeaders = time.Now()
			t.m.ReqHeaders = t.wroteHeaders.Sub(t.gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.wroteBody = time.Now()
			t.m.ReqBody = t.wroteBody.Sub(t.wroteHeaders)
		},
		GotFirstResponseByte: func() {
			t.firstByte = time.Now()
			t.m.TTFB = t.firstByte.Sub(t.wroteBody)
		},
	}
}

func traced(req *http.Request, t *requestTrace) *http.Request {
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), t.hooks()))
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req
}

// Do sends req and reads the whole reply, which must not exceed 1 MiB.
func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	t := &requestTrace{}
	start := time.Now()

	resp, err := c.client.Do(traced(req, t))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxReplySize {
		return nil, fmt.Errorf("reply larger than %d bytes", maxReplySize)
	}
	t.m.Download = time.Since(t.firstByte)
	t.m.Total = time.Since(start)

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    &t.m,
	}, nil
}

// WarmConnection issues a HEAD request so the first chunk can reuse an
// established TLS connection. It returns the handshake time, or 0 on failure.
func (c *TracedClient) WarmConnection(ctx context.Context, url string) time.Duration {
	ctx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	t := &requestTrace{}
	resp, err := c.client.Do(traced(req, t))
	if err != nil {
		log.Warnf("warm %s: %v", url, err)
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	log.Infof("warm %s: tls=%s reused=%v", url, t.m.TLS, t.m.ConnReused)
	return t.m.TLS
}
