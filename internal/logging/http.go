package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const redacted = "[REDACTED]"

// sensitiveHeaders are dropped from logged requests and responses.
var sensitiveHeaders = map[string]bool{
	"authorization":     true,
	"cookie":            true,
	"set-cookie":        true,
	"x-api-key":         true,
	"x-dulayni-api-key": true,
}

// sensitiveKeys are matched as substrings of lower-cased JSON keys.
var sensitiveKeys = []string{
	"api_key", "apikey", "token", "secret", "password",
	"authorization", "verification_code",
}

// HTTPLogger writes debug records for agent API traffic.
type HTTPLogger struct {
	logger      *Logger
	maxBodySize int
}

// NewHTTPLogger creates a new HTTP logger
func NewHTTPLogger(logger *Logger) *HTTPLogger {
	return &HTTPLogger{
		logger:      logger,
		maxBodySize: 10000,
	}
}

// SetMaxBodySize sets the maximum body size to log (in bytes)
func (h *HTTPLogger) SetMaxBodySize(size int) {
	h.maxBodySize = size
}

// LogRequest logs an outgoing request. Credentials in headers and in JSON
// bodies are replaced before anything is written.
func (h *HTTPLogger) LogRequest(req *http.Request, body []byte) {
	fields := Fields{
		"method":  req.Method,
		"url":     req.URL.String(),
		"headers": flattenHeaders(req.Header),
	}
	h.addBody(fields, body)
	h.logger.Debug("agent request", fields)
}

// LogResponse logs a buffered response.
func (h *HTTPLogger) LogResponse(resp *http.Response, body []byte, duration time.Duration) {
	fields := Fields{
		"status":      resp.StatusCode,
		"duration_ms": duration.Milliseconds(),
		"headers":     flattenHeaders(resp.Header),
	}
	h.addBody(fields, body)
	h.logger.Debug("agent response", fields)
}

// LogStreamStart logs the headers of an event stream. The body is never
// buffered.
func (h *HTTPLogger) LogStreamStart(resp *http.Response, duration time.Duration) {
	h.logger.Debug("agent stream opened", Fields{
		"status":      resp.StatusCode,
		"duration_ms": duration.Milliseconds(),
	})
}

// LogStreamEvent logs one decoded stream event.
func (h *HTTPLogger) LogStreamEvent(eventType string, data []byte) {
	fields := Fields{"event": eventType, "size": len(data)}
	if len(data) <= 500 {
		fields["data"] = string(data)
	} else {
		fields["data"] = string(data[:500]) + "...[truncated]"
	}
	h.logger.Debug("agent stream event", fields)
}

// LogError logs a transport failure.
func (h *HTTPLogger) LogError(err error, req *http.Request) {
	h.logger.Error("agent transport error", err, Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})
}

func (h *HTTPLogger) addBody(fields Fields, body []byte) {
	if len(body) == 0 {
		return
	}
	fields["body_size"] = len(body)
	var parsed interface{}
	if json.Unmarshal(body, &parsed) == nil {
		fields["body"] = redactSensitiveFields(parsed)
		return
	}
	fields["body"] = truncateBody(body, h.maxBodySize)
}

// LoggingRoundTripper logs every request passing through the wrapped
// transport. Event-stream bodies are left untouched so streaming still works.
type LoggingRoundTripper struct {
	next    http.RoundTripper
	logger  *HTTPLogger
	logBody bool
}

// NewLoggingRoundTripper creates a new logging round tripper
func NewLoggingRoundTripper(next http.RoundTripper, logger *HTTPLogger, logBody bool) *LoggingRoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &LoggingRoundTripper{next: next, logger: logger, logBody: logBody}
}

// RoundTrip implements http.RoundTripper
func (rt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	var reqBody []byte
	if rt.logBody && req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}
	rt.logger.LogRequest(req, reqBody)

	resp, err := rt.next.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		rt.logger.LogError(err, req)
		return nil, err
	}

	if isStreamingResponse(resp) {
		rt.logger.LogStreamStart(resp, duration)
		return resp, nil
	}

	var respBody []byte
	if rt.logBody {
		respBody, _ = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}
	rt.logger.LogResponse(resp, respBody, duration)
	return resp, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch {
		case isSensitiveHeader(k):
			out[k] = redacted
		case len(v) > 0:
			out[k] = v[0]
		}
	}
	return out
}

func isSensitiveHeader(name string) bool {
	return sensitiveHeaders[strings.ToLower(name)]
}

func truncateBody(body []byte, maxSize int) string {
	if len(body) <= maxSize {
		return string(body)
	}
	return string(body[:maxSize]) + "...[truncated]"
}

func isStreamingResponse(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func redactSensitiveFields(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			if isSensitiveKey(k) {
				result[k] = redacted
				continue
			}
			result[k] = redactSensitiveFields(val)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = redactSensitiveFields(item)
		}
		return result
	default:
		return data
	}
}
