// Package rest provides the HTTP client implementation of the
// storage.AuthoritativeStore interface against the relational backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/session"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

const defaultTimeout = 10 * time.Second

// Ensure Client implements storage.AuthoritativeStore
var _ storage.AuthoritativeStore = (*Client)(nil)

// Client talks to the authoritative backend over its REST API.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions session.Provider
}

// New creates a backend client. baseURL is the API root (no trailing
// slash required); sessions supplies the bearer token for every request.
func New(baseURL string, sessions session.Provider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		sessions: sessions,
	}
}

// GetJourney fetches the authoritative journey row.
func (c *Client) GetJourney(ctx context.Context, journeyID string) (*storage.BackendJourney, error) {
	var journey storage.BackendJourney
	err := c.do(ctx, http.MethodGet, "journey/"+url.PathEscape(journeyID), nil, &journey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch journey %s: %w", journeyID, err)
	}
	return &journey, nil
}

// SetJourneyState sets the journey's lifecycle state via the idempotent
// status endpoint. No request body.
func (c *Client) SetJourneyState(ctx context.Context, journeyID string, state models.JourneyState) error {
	path := "journey/" + url.PathEscape(journeyID) + "/status/" + url.PathEscape(string(state))
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("failed to set journey %s state to %s: %w", journeyID, state, err)
	}
	return nil
}

// CreateParticipation creates a participation row and returns it with
// the backend-assigned ID.
func (c *Client) CreateParticipation(ctx context.Context, p *storage.BackendParticipation) (*storage.BackendParticipation, error) {
	var created storage.BackendParticipation
	if err := c.do(ctx, http.MethodPost, "participation", p, &created); err != nil {
		return nil, fmt.Errorf("failed to create participation %s/%s: %w", p.JourneyID, p.UserID, err)
	}
	return &created, nil
}

// UpdateParticipation updates an existing participation row.
func (c *Client) UpdateParticipation(ctx context.Context, p *storage.BackendParticipation) error {
	if err := c.do(ctx, http.MethodPut, "participation", p, nil); err != nil {
		return fmt.Errorf("failed to update participation %s: %w", p.ID, err)
	}
	return nil
}

// do performs one authenticated round trip. body and out are optional;
// out is JSON-decoded from the response when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.sessions.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return storage.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
