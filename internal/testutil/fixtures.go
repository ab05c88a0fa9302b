package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest is one call received by a StubUpstream.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Body          []byte
}

// StubUpstream is a fake chat completion API. It answers every request with
// the configured status and body and records what it received.
type StubUpstream struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     []byte
	requests []RecordedRequest
}

// NewStubUpstream starts a stub that answers with status and body. It is
// closed when the test completes.
func NewStubUpstream(t *testing.T, status int, body []byte) *StubUpstream {
	t.Helper()
	s := &StubUpstream{status: status, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *StubUpstream) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Body:          data,
	})
	status, body := s.status, s.body
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// Respond changes the canned answer for subsequent requests.
func (s *StubUpstream) Respond(status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// Requests returns a copy of the requests received so far.
func (s *StubUpstream) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// APIBase returns the base URL to configure as upstream.api_base.
func (s *StubUpstream) APIBase() string {
	return s.URL + "/v1"
}

// ChatCompletion returns a chat completion response body whose first choice
// carries content.
func ChatCompletion(content string) []byte {
	resp := map[string]interface{}{
		"id":      "chatcmpl-test123",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     25,
			"completion_tokens": 12,
			"total_tokens":      37,
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

// ErrorBody returns an OpenAI style error body.
func ErrorBody(message, kind string) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    kind,
		},
	})
	return data
}
