package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mvaleev/reelchat/internal/domain"
)

func TestAPIListAndGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/conversations":
			_, _ = w.Write([]byte(`[{"id":"conv_1","title":"Recommend a sci-fi movie","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`))
		case "/api/conversations/conv_1":
			_, _ = w.Write([]byte(`{"id":"conv_1","title":"Recommend a sci-fi movie","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","messages":[{"id":"msg_1","conversation_id":"conv_1","role":"user","content":"hi","raw_content":"hi","created_at":"2025-01-01T00:00:00Z"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
		}
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	ctx := context.Background()

	convs, err := api.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "conv_1" {
		t.Fatalf("unexpected list result: %+v", convs)
	}

	conv, err := api.Get(ctx, "conv_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if conv.Title != "Recommend a sci-fi movie" {
		t.Errorf("unexpected title: %q", conv.Title)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != domain.RoleUser {
		t.Errorf("unexpected messages: %+v", conv.Messages)
	}
}

func TestAPIGetNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	if _, err := api.Get(context.Background(), "conv_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPINotFoundMarkerInErrorBody(t *testing.T) {
	t.Parallel()

	// Some proxies rewrite the status; the body marker still identifies the
	// missing conversation.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream said: conversation not found`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	if err := api.Delete(context.Background(), "conv_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIServerErrorIsNotNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database unavailable"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	err := api.Delete(context.Background(), "conv_1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("generic failure misclassified as not found: %v", err)
	}
}

func TestAPIHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	api := NewAPI(srv.URL)
	if _, err := api.List(ctx); err == nil {
		t.Fatal("expected a context deadline error")
	}
}
