package feed

import (
	"net/http"
)

// TokenSource supplies the stored bearer credential and receives the
// invalid-token signal. Satisfied by *token.Store.
type TokenSource interface {
	AccessToken() string
	NotifyInvalid()
}

// BearerNormalizer matches token.NormalizeBearer; injected so the transport
// stays decoupled from the token package.
type BearerNormalizer func(string) string

// tokenTransport wraps an http.RoundTripper to inject the normalized bearer
// token into both the standard Authorization header and the vendor-specific
// synjones-auth header the backend also checks.
type tokenTransport struct {
	base      http.RoundTripper
	tokens    TokenSource
	normalize BearerNormalizer
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok := t.tokens.AccessToken()
	if tok == "" {
		return t.base.RoundTrip(req)
	}
	bearer := t.normalize(tok)
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", bearer)
	cloned.Header.Set("synjones-auth", bearer)
	return t.base.RoundTrip(cloned)
}
