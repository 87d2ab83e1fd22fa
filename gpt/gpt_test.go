package gpt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("x-folder-id"); got != "folder" {
			t.Errorf("unexpected folder header %q", got)
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ModelURI != "gpt://folder/yandexgpt/latest" {
			t.Errorf("unexpected model uri %q", req.ModelURI)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Text != "hallo" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		w.Write([]byte(`{"result":{"alternatives":[{"message":{"role":"assistant","text":"samenvatting"},"status":"ALTERNATIVE_STATUS_FINAL"}],"usage":{"totalTokens":"42"}}}`))
	}))
	defer srv.Close()

	c := NewClient("folder", "token", WithEndpoint(srv.URL))

	got, err := c.Ask(context.Background(), "yandexgpt", "vat samen", "hallo", CompletionOptions{Temperature: 0.3})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if got != "samenvatting" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestCompleteUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"alternatives":[],"usage":{"totalTokens":"42"}}}`))
	}))
	defer srv.Close()

	resp, err := NewClient("folder", "token", WithEndpoint(srv.URL)).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Result.Usage.Total() != 42 {
		t.Errorf("unexpected total %d", resp.Result.Usage.Total())
	}
	if _, err := resp.Text(); !errors.Is(err, ErrNoAlternatives) {
		t.Errorf("expected ErrNoAlternatives, got %v", err)
	}
}

func TestCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("folder", "bad", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	_, err := c.Complete(context.Background(), Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected API error with status 401, got %v", err)
	}
}
