package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tikibozo/kometa-ai/internal/oracle"
)

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		var req messagesRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "claude-sonnet" {
			t.Errorf("expected model passed through, got %q", req.Model)
		}
		resp := messagesResponse{}
		resp.Content = []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{{Type: "text", Text: `{"decisions":[]}`}}
		resp.Usage.InputTokens = 120
		resp.Usage.OutputTokens = 40
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New("secret", srv.URL)
	content, in, out, err := c.Complete(context.Background(), "sys", "user", "claude-sonnet", 0.1, 512, 0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if content != `{"decisions":[]}` {
		t.Errorf("unexpected content: %q", content)
	}
	if in != 120 || out != 40 {
		t.Errorf("expected usage 120/40, got %d/%d", in, out)
	}
}

func TestCompleteMarksRateLimitAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error"}`))
	}))
	defer srv.Close()

	c := New("secret", srv.URL)
	_, _, _, err := c.Complete(context.Background(), "sys", "user", "claude-sonnet", 0.1, 512, 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	var transient *oracle.TransientError
	if !errors.As(err, &transient) {
		t.Errorf("expected a transient error, got %v", err)
	}
}

func TestCompleteMarksBadRequestAsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"invalid_request_error","message":"bad model"}`))
	}))
	defer srv.Close()

	c := New("secret", srv.URL)
	_, _, _, err := c.Complete(context.Background(), "sys", "user", "claude-sonnet", 0.1, 512, 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	var transient *oracle.TransientError
	if errors.As(err, &transient) {
		t.Error("expected a fatal error, got a transient one")
	}
}

func TestCompleteReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := messagesResponse{Error: &wireError{Type: "overloaded_error", Message: "try again"}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New("secret", srv.URL)
	_, _, _, err := c.Complete(context.Background(), "sys", "user", "claude-sonnet", 0.1, 512, 0)
	if err == nil {
		t.Fatal("expected an api error")
	}
}
