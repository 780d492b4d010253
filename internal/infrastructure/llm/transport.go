package llm

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxLoggedBody caps how much of a provider payload ends up in debug logs.
const maxLoggedBody = 2048

// LoggingTransport is an http.RoundTripper that logs provider traffic.
// Bodies are only read and logged when debug logging is enabled.
type LoggingTransport struct {
	Base     http.RoundTripper
	Provider string
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if zerolog.GlobalLevel() > zerolog.DebugLevel || log.Logger.GetLevel() > zerolog.DebugLevel {
		return base.RoundTrip(req)
	}

	var reqBody []byte
	if req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}
	log.Debug().
		Str("component", t.Provider).
		Str("method", req.Method).
		Str("url", redactedURL(req)).
		Str("body", truncate(reqBody)).
		Msg("outbound request")

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	respBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	log.Debug().
		Str("component", t.Provider).
		Int("status", resp.StatusCode).
		Dur("dur", time.Since(start)).
		Str("body", truncate(respBody)).
		Msg("outbound response")

	return resp, nil
}

// redactedURL drops query parameters, which carry API keys for some providers.
func redactedURL(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}

func newHTTPClient(provider string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &LoggingTransport{Provider: provider},
	}
}
