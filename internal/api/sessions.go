package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// CreateSession submits a workout session create. idemKey is the transport
// idempotency key for this physical attempt — the engine regenerates it on
// every retry, which is safe because the resource ids inside the payload
// are stable.
//
// A 409 means the session id already exists server-side (an earlier attempt
// succeeded without the client observing it); callers treat it as success
// via errors.Is(err, ErrConflict).
func (c *Client) CreateSession(ctx context.Context, idemKey string, session *WorkoutSession) (*Session, error) {
	session.Normalize()

	body, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("api: encoding session %s: %w", session.ID, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/workout-sessions", body, idemKey)
	if err != nil {
		return nil, err
	}

	var created Session
	if err := decode(resp, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// GetSession fetches a session by id. Used by the status command and the
// contract tests to verify server-side state.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	resp, err := c.do(ctx, http.MethodGet, "/workout-sessions/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}

	var session Session
	if err := decode(resp, &session); err != nil {
		return nil, err
	}

	return &session, nil
}
