// Package token models the short-lived provider credentials handed out by
// the token broker and fetches them over HTTP.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrMalformed is returned when a broker response lacks a token or a
// websocket URL.
var ErrMalformed = errors.New("token: malformed response")

// Token is an ephemeral credential for one realtime STT session
type Token struct {
	Token        string `json:"token"`
	ExpiresAt    int64  `json:"expiresAt"` // ms since epoch
	WebsocketURL string `json:"websocketUrl"`
}

// Validate checks the fields every provider needs
func (t Token) Validate() error {
	switch {
	case t.Token == "":
		return fmt.Errorf("%w: missing token", ErrMalformed)
	case t.WebsocketURL == "":
		return fmt.Errorf("%w: missing websocketUrl", ErrMalformed)
	}
	return nil
}

// Expired reports whether the token is past its expiry at now. A zero
// ExpiresAt never expires.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt > 0 && now.UnixMilli() >= t.ExpiresAt
}

// Source hands out tokens per provider
type Source interface {
	Fetch(ctx context.Context, provider, sessionID string) (Token, error)
}

// StatusError is a non-2xx answer from the broker or an upstream
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("token %s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("token %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying may help
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Result is the settled outcome of one provider's fetch
type Result struct {
	Token Token
	Err   error
}

// FetchAll fetches a token for every provider concurrently and waits for
// all of them. One provider failing never cancels the others.
func FetchAll(ctx context.Context, src Source, sessionID string, providers ...string) map[string]Result {
	results := make([]Result, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			tok, err := src.Fetch(ctx, p, sessionID)
			results[i] = Result{Token: tok, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Result, len(providers))
	for i, p := range providers {
		out[p] = results[i]
	}
	return out
}
