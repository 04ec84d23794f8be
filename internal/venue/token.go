package venue

import (
	"net/http"

	apperrors "pnl_monitor/pkg/errors"
)

// TokenProvider supplies the bearer credential for ledger requests.
// Implementations may refresh or rotate behind this interface; FetchFills
// asks for the token on every request.
type TokenProvider interface {
	Token() (string, error)
}

// StaticTokenProvider serves a fixed API key.
type StaticTokenProvider struct {
	key string
}

// NewStaticTokenProvider wraps a pre-issued API key.
func NewStaticTokenProvider(key string) *StaticTokenProvider {
	return &StaticTokenProvider{key: key}
}

func (p *StaticTokenProvider) Token() (string, error) {
	if p.key == "" {
		return "", apperrors.ErrAuthenticationFailed
	}
	return p.key, nil
}

// bearerAuthorizer adapts a TokenProvider to the HTTP client's Authorizer.
type bearerAuthorizer struct {
	tokens TokenProvider
}

func (a *bearerAuthorizer) Authorize(req *http.Request) error {
	token, err := a.tokens.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
