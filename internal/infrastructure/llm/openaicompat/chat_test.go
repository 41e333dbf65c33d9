package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/medibot/internal/core/domain"
)

func TestChatSendsSystemAndUserMessages(t *testing.T) {
	var payload struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "router-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " I don't know. "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 3, "total_tokens": 6}
		}`))
	}))
	defer server.Close()

	model, err := New(server.URL, "Bearer secret", "router-model", Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	answer, err := model.Chat(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Answer from context."},
		{Role: domain.RoleUser, Content: "What is the capital of Mars?"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if answer != "I don't know." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if payload.Model != "router-model" || len(payload.Messages) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Messages[0].Role != "system" || payload.Messages[1].Role != "user" {
		t.Fatalf("unexpected roles: %+v", payload.Messages)
	}
}

func TestChatBackendFailureIsGenerationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	model, err := New(server.URL, "key", "nope", Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = model.Chat(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	if !domain.IsKind(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}
