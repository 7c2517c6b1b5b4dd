package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mvaleev/reelchat/internal/domain"
)

// ErrNotFound marks a conversation the server does not know. Callers treat it
// as non-fatal: clear the selection, no global error.
var ErrNotFound = errors.New("conversation not found")

// notFoundMarker is the substring the gateway puts into 404 bodies; matching
// on it distinguishes a missing conversation from other failures.
const notFoundMarker = "conversation not found"

// API is the REST client for the gateway's conversation endpoints.
type API struct {
	baseURL string
	http    *http.Client
}

// NewAPI creates a REST client for the given gateway base URL.
func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// List returns conversation summaries, newest first.
func (a *API) List(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := a.do(ctx, http.MethodGet, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one conversation with its full message history. Returns
// ErrNotFound when the server does not know the id.
func (a *API) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var out domain.Conversation
	if err := a.do(ctx, http.MethodGet, "/api/conversations/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a conversation. Deleting an unknown id returns ErrNotFound.
func (a *API) Delete(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/conversations/"+id, nil)
}

func (a *API) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if strings.Contains(string(body), notFoundMarker) {
			return ErrNotFound
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
