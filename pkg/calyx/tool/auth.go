package tool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// authenticator applies an AuthConfig to outgoing requests. OAuth2 token
// sources are cached per tool so the client-credentials token is fetched
// once and reused until expiry.
type authenticator struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newAuthenticator() *authenticator {
	return &authenticator{sources: make(map[string]oauth2.TokenSource)}
}

// apply sets the Authorization header per the tool's auth strategy.
func (a *authenticator) apply(ctx context.Context, req *http.Request, toolName string, cfg *AuthConfig) error {
	if cfg == nil || cfg.Kind == AuthNone {
		return nil
	}
	switch cfg.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
		return nil
	case AuthOAuth2:
		tok, err := a.token(ctx, toolName, cfg)
		if err != nil {
			return fmt.Errorf("oauth2 token for tool %s: %w", toolName, err)
		}
		tok.SetAuthHeader(req)
		return nil
	case AuthJWT:
		signed, err := signJWT(cfg)
		if err != nil {
			return fmt.Errorf("sign jwt for tool %s: %w", toolName, err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
		return nil
	default:
		return fmt.Errorf("unknown auth kind %q", cfg.Kind)
	}
}

// token returns a cached client-credentials token, fetching on first use.
func (a *authenticator) token(ctx context.Context, toolName string, cfg *AuthConfig) (*oauth2.Token, error) {
	a.mu.Lock()
	src, ok := a.sources[toolName]
	if !ok {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// ReuseTokenSource caches until expiry and refreshes on demand.
		src = oauth2.ReuseTokenSource(nil, cc.TokenSource(context.Background()))
		a.sources[toolName] = src
	}
	a.mu.Unlock()

	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := src.Token()
		done <- result{tok, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.tok, r.err
	}
}

// signJWT mints a short-lived HS256 token from the tool's signing config.
func signJWT(cfg *AuthConfig) (string, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.SigningKey))
}
