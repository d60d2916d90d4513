package live

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/google"
)

// Scopes requested for OAuth2 access to the live endpoint.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

// GoogleTokenSource returns Application Default Credentials.
func GoogleTokenSource(ctx context.Context) (*google.Credentials, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("live: default credentials: %w", err)
	}
	return creds, nil
}

// endpoint builds the dial URL and headers for the configured credentials.
func (c *Config) endpoint() (string, http.Header, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}

	header := make(http.Header)
	switch {
	case c.APIKey != "":
		q := u.Query()
		q.Set("key", c.APIKey)
		u.RawQuery = q.Encode()
	case c.TokenSource != nil:
		tok, err := c.TokenSource.Token()
		if err != nil {
			return "", nil, fmt.Errorf("oauth token: %w", err)
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	default:
		return "", nil, ErrNoCredentials
	}
	return u.String(), header, nil
}
