package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/astrelia/readings/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIResponse{
			ID: "test-id",
			Choices: []openAIChoice{
				{
					Message: openAIMessage{Role: "assistant", Content: "Hello from OpenAI mock!"},
				},
			},
			Usage: openAIUsage{
				PromptTokens:     15,
				CompletionTokens: 25,
			},
			Model: "gpt-4o-mini",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := &OpenAIProvider{
		apiKey:  "test-key",
		model:   "gpt-4o-mini",
		baseURL: server.URL,
	}

	resp, err := p.Complete(context.Background(), &provider.PromptPair{User: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != "Hello from OpenAI mock!" {
		t.Errorf("Expected 'Hello from OpenAI mock!', got %s", resp.Text)
	}
	if resp.InputTokens != 15 {
		t.Errorf("Expected 15 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 25 {
		t.Errorf("Expected 25 output tokens, got %d", resp.OutputTokens)
	}
}

func TestCompleteStream_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{"Hello", " world", "!"}
		for _, chunk := range chunks {
			resp := openAIResponse{
				Choices: []openAIChoice{
					{Delta: openAIDelta{Content: chunk}},
				},
			}
			data, _ := json.Marshal(resp)
			fmt.Fprintf(w, "data: %s\n\n", string(data))
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := &OpenAIProvider{
		apiKey:  "test-key",
		model:   "gpt-4o-mini",
		baseURL: server.URL,
	}

	ch, err := p.CompleteStream(context.Background(), &provider.PromptPair{User: "hi"})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("Received error from chunk: %v", chunk.Err)
		}
		if chunk.Done {
			done = true
			continue
		}
		content += chunk.Delta
	}

	if !done {
		t.Error("Expected stream to be done")
	}
	if content != "Hello world!" {
		t.Errorf("Expected 'Hello world!', got %s", content)
	}
}

func TestSystemMessageMapping(t *testing.T) {
	var capturedReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &capturedReq)

		resp := openAIResponse{
			ID:      "test-id",
			Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "ok"}}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := &OpenAIProvider{
		apiKey:  "test-key",
		model:   "gpt-4o-mini",
		baseURL: server.URL,
	}

	_, err := p.Complete(context.Background(), &provider.PromptPair{
		System: "You are an astrologer.",
		User:   "interpret",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(capturedReq.Messages) != 2 {
		t.Fatalf("Expected system+user messages, got %d", len(capturedReq.Messages))
	}
	if capturedReq.Messages[0].Role != "system" || capturedReq.Messages[0].Content != "You are an astrologer." {
		t.Errorf("Expected system message first, got %+v", capturedReq.Messages[0])
	}
	if capturedReq.Messages[1].Role != "user" {
		t.Errorf("Expected user message second, got %+v", capturedReq.Messages[1])
	}
}

func TestName(t *testing.T) {
	p := New("key", "gpt-4o-mini")
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got %s", p.Name())
	}
	if p.Model() != "gpt-4o-mini" {
		t.Errorf("Expected configured model, got %s", p.Model())
	}
}
