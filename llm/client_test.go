package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatOK(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"model":   "test",
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"}},
	})
}

func chatError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "server_error"},
	})
}

func TestRespondKeepsHistoryPerContext(t *testing.T) {
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&last)
		chatOK(w, "  reply  ")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "primary", MaxHistoryTurns: 20})

	reply, err := c.Respond(context.Background(), "ctx-a", "first question")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "reply" {
		t.Fatalf("reply should be trimmed, got %q", reply)
	}

	if _, err := c.Respond(context.Background(), "ctx-a", "second question"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(last.Messages) != 3 {
		t.Fatalf("second call should carry history (user, assistant, user), got %d messages", len(last.Messages))
	}
	if last.Messages[0].Content != "first question" || last.Messages[1].Content != "reply" || last.Messages[2].Content != "second question" {
		t.Fatalf("history order wrong: %+v", last.Messages)
	}

	if _, err := c.Respond(context.Background(), "ctx-b", "hello"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(last.Messages) != 1 {
		t.Fatalf("contexts must not share history, got %d messages", len(last.Messages))
	}
}

func TestRespondFallsBackOnTransientError(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model == "primary" {
			chatError(w, http.StatusInternalServerError, "overloaded")
			return
		}
		chatOK(w, "from fallback")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "primary", FallbackModel: "backup"})
	reply, err := c.Respond(context.Background(), "ctx", "hi")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "from fallback" {
		t.Fatalf("reply: got %q", reply)
	}
	if len(models) != 2 || models[0] != "primary" || models[1] != "backup" {
		t.Fatalf("model sequence: %v", models)
	}
}

func TestRespondPermanentErrorNoFallback(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		chatError(w, http.StatusUnauthorized, "bad key")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "primary", FallbackModel: "backup"})
	_, err := c.Respond(context.Background(), "ctx", "hi")
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("permanent errors must not hit the fallback, got %d calls", n)
	}
}

func TestRespondFailureLeavesHistoryClean(t *testing.T) {
	var fail atomic.Bool
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&last)
		if fail.Load() {
			chatError(w, http.StatusUnauthorized, "nope")
			return
		}
		chatOK(w, "ok")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"})
	fail.Store(true)
	if _, err := c.Respond(context.Background(), "ctx", "dropped turn"); err == nil {
		t.Fatal("expected an error")
	}
	fail.Store(false)
	if _, err := c.Respond(context.Background(), "ctx", "next turn"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(last.Messages) != 1 {
		t.Fatalf("failed exchange must not enter history, got %d messages", len(last.Messages))
	}
}

func TestHistoryTrimming(t *testing.T) {
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&last)
		chatOK(w, "r")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m", MaxHistoryTurns: 2})
	for i := 0; i < 5; i++ {
		if _, err := c.Respond(context.Background(), "ctx", "q"); err != nil {
			t.Fatalf("Respond %d: %v", i, err)
		}
	}
	// 2 retained turns (4 messages) plus the new user message
	if len(last.Messages) != 5 {
		t.Fatalf("history should be trimmed to 2 turns, request carried %d messages", len(last.Messages))
	}
}

func TestForget(t *testing.T) {
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&last)
		chatOK(w, "r")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"})
	c.Respond(context.Background(), "ctx", "one")
	c.Forget("ctx")
	c.Respond(context.Background(), "ctx", "two")
	if len(last.Messages) != 1 {
		t.Fatalf("history should be empty after Forget, got %d messages", len(last.Messages))
	}
}
