// Package graphdrive is a concrete backend.DriveBackend implementation for a
// Graph-style upstream cloud drive API, in the teacher's idiom: a retrying
// HTTP client with oauth2-managed bearer tokens, sentinel error
// classification, and resumable chunked upload sessions. It is the template
// a platform-specific adapter (intl vs cn, per data-model.md's Tenant
// Platform field) follows — Platform selects the OAuth endpoint and base
// URL a Client is constructed with.
package graphdrive

import (
	"context"

	"golang.org/x/oauth2"
)

// EndpointFor returns the OAuth2 endpoint for a platform string ("intl" or
// "cn"). Both are illustrative placeholder endpoints: the concrete wire
// format of any real upstream is out of this system's scope (spec.md §1).
func EndpointFor(platform string) oauth2.Endpoint {
	if platform == "cn" {
		return oauth2.Endpoint{
			AuthURL:  "https://login.partner.example.cn/oauth2/authorize",
			TokenURL: "https://login.partner.example.cn/oauth2/token",
		}
	}

	return oauth2.Endpoint{
		AuthURL:  "https://login.example.com/oauth2/authorize",
		TokenURL: "https://login.example.com/oauth2/token",
	}
}

// BaseURLFor returns the REST API base URL for a platform string.
func BaseURLFor(platform string) string {
	if platform == "cn" {
		return "https://api.partner.example.cn/drive/v1"
	}

	return "https://api.example.com/drive/v1"
}

// TokenSource provides OAuth2 bearer tokens for Client. Defined at the
// consumer per "accept interfaces, return structs" — mirrors the teacher's
// graph.TokenSource.
type TokenSource interface {
	Token() (string, error)
}

// oauth2TokenSource adapts an oauth2.TokenSource (which returns *oauth2.Token)
// to the simpler string-returning TokenSource Client consumes.
type oauth2TokenSource struct {
	ts oauth2.TokenSource
}

func (o oauth2TokenSource) Token() (string, error) {
	tok, err := o.ts.Token()
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// NewTokenSource builds a refreshing TokenSource from stored app credentials.
// clientID/clientSecret/refreshToken come from Tenant.AppCredentials;
// platform selects the OAuth endpoint.
func NewTokenSource(ctx context.Context, platform, clientID, clientSecret, refreshToken string) TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     EndpointFor(platform),
	}

	tok := &oauth2.Token{RefreshToken: refreshToken}

	return oauth2TokenSource{ts: cfg.TokenSource(ctx, tok)}
}
