package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsSensitiveHeader(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"Authorization", true},
		{"authorization", true},
		{"X-Dulayni-Api-Key", true},
		{"Cookie", true},
		{"Content-Type", false},
		{"X-Request-Id", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := isSensitiveHeader(tt.header); got != tt.want {
				t.Errorf("isSensitiveHeader(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestTruncateBody(t *testing.T) {
	if got := truncateBody([]byte("hello"), 100); got != "hello" {
		t.Errorf("truncateBody(small) = %q, want %q", got, "hello")
	}
	got := truncateBody([]byte(strings.Repeat("a", 200)), 50)
	if !strings.HasSuffix(got, "...[truncated]") || len(got) != 50+len("...[truncated]") {
		t.Errorf("truncateBody(large) = %q", got)
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	input := map[string]interface{}{
		"content":         "list my files",
		"dulayni_api_key": "sk-123",
		"nested": map[string]interface{}{
			"auth_token":        "tok",
			"verification_code": "1234",
			"phone_number":      "+15550001",
		},
		"items": []interface{}{map[string]interface{}{"secret": "x"}},
	}

	result := redactSensitiveFields(input).(map[string]interface{})

	if result["content"] != "list my files" {
		t.Error("content should not be redacted")
	}
	if result["dulayni_api_key"] != redacted {
		t.Error("dulayni_api_key should be redacted")
	}
	nested := result["nested"].(map[string]interface{})
	if nested["auth_token"] != redacted || nested["verification_code"] != redacted {
		t.Errorf("nested credentials not redacted: %v", nested)
	}
	if nested["phone_number"] != "+15550001" {
		t.Error("phone_number should not be redacted")
	}
	item := result["items"].([]interface{})[0].(map[string]interface{})
	if item["secret"] != redacted {
		t.Error("secret inside array should be redacted")
	}
}

func TestLoggingRoundTripper_RedactsAndPreservesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := New(Options{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	client := &http.Client{Transport: NewLoggingRoundTripper(nil, NewHTTPLogger(logger), true)}

	payload := `{"content":"hi","dulayni_api_key":"sk-secret"}`
	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	echoed, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if string(echoed) != payload {
		t.Errorf("server saw body %q, want %q", echoed, payload)
	}
	if strings.Contains(buf.String(), "sk-secret") || strings.Contains(buf.String(), "Bearer tok") {
		t.Errorf("credentials leaked into log: %s", buf.String())
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2 (request + response)", len(lines))
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("bad log line: %v", err)
	}
	if first["message"] != "agent request" {
		t.Errorf("first message = %v, want agent request", first["message"])
	}
}

func TestLoggingRoundTripper_StreamNotBuffered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"message\",\"content\":\"a\"}\n\n")
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := New(Options{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	client := &http.Client{Transport: NewLoggingRoundTripper(nil, NewHTTPLogger(logger), true)}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(buf.String(), "agent stream opened") {
		t.Errorf("expected stream-open record, got %s", buf.String())
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"content":"a"`) {
		t.Errorf("stream body was consumed by the logger: %q", body)
	}
}
