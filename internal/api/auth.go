package api

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"
)

// NewOAuthHTTPClient returns an *http.Client that injects OAuth2
// client-credentials tokens, refreshing them as they expire. Used when the
// coordination server sits behind an identity provider instead of issuing
// static device tokens. The returned client is passed to NewClient; the
// Client's TokenSource should then be nil so the Authorization header is
// managed here exclusively.
func NewOAuthHTTPClient(ctx context.Context, tokenURL, clientID, clientSecret string) *http.Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}

	return cfg.Client(ctx)
}
