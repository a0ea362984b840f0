package pluginhost

import (
	"context"
	"encoding/json"
	"sync"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"ragcore/internal/errkind"
)

// OAuthProvider describes one OAuth2 provider a plugin-connected account
// (Gmail, Google Drive, Outlook — spec.md §6 Workload Router's feed
// examples) can be refreshed against. The token endpoint is discovered via
// OIDC discovery rather than hand-maintained per provider, the same
// approach the teacher's auth.NewOIDC uses for interactive login.
type OAuthProvider struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// storedOAuthSecret is the JSON shape secrets.set persists for an
// OAuth2-backed plugin secret. A secret without this shape (plain API key,
// static token) is returned from SecretsGet unchanged.
type storedOAuthSecret struct {
	Provider     string `json:"oauth_provider"`
	RefreshToken string `json:"refresh_token"`
}

// TokenRefresher exchanges a plugin's stored refresh token for a live
// access token and caches it until it is close to expiry, so
// Host.SecretsGet can hand plugin code a short-lived access token instead
// of the raw refresh token (spec.md §4.10).
type TokenRefresher struct {
	providers map[string]OAuthProvider

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

// NewTokenRefresher builds a TokenRefresher over the given provider set,
// keyed by the provider name a stored secret names in its "oauth_provider"
// field. Secrets not shaped like storedOAuthSecret pass through unchanged;
// one whose provider is not in the map (any provider, when the map is nil
// or empty) fails with unknown_oauth_provider.
func NewTokenRefresher(providers map[string]OAuthProvider) *TokenRefresher {
	return &TokenRefresher{providers: providers, tokens: map[string]*oauth2.Token{}}
}

// AccessToken returns a live access token for the plugin/user/key scoped
// cacheKey, refreshing via the provider's token endpoint if the cached
// token is missing or close to expiry.
func (r *TokenRefresher) AccessToken(ctx context.Context, cacheKey string, stored storedOAuthSecret) (string, error) {
	cfg, ok := r.providers[stored.Provider]
	if !ok {
		return "", errkind.New(errkind.InvalidInput, "unknown_oauth_provider", "no oauth provider configured for "+stored.Provider)
	}

	r.mu.Lock()
	cached, ok := r.tokens[cacheKey]
	r.mu.Unlock()
	if ok && cached.Valid() {
		return cached.AccessToken, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return "", errkind.Wrap(errkind.UpstreamFailure, "oidc_discovery_failed", "oauth provider discovery failed", err)
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes,
	}
	tok, err := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		return "", errkind.Wrap(errkind.UpstreamFailure, "oauth_refresh_failed", "refreshing plugin oauth token failed", err)
	}

	r.mu.Lock()
	r.tokens[cacheKey] = tok
	r.mu.Unlock()
	return tok.AccessToken, nil
}

// resolveSecret transparently swaps a stored OAuth2 refresh token for a
// live access token. v that doesn't parse as storedOAuthSecret (no
// "refresh_token" field) is returned unchanged — most secrets are plain
// API keys or static tokens, not OAuth2-backed.
func (r *TokenRefresher) resolveSecret(ctx context.Context, cacheKey, v string) (string, error) {
	var stored storedOAuthSecret
	if err := json.Unmarshal([]byte(v), &stored); err != nil || stored.RefreshToken == "" {
		return v, nil
	}
	return r.AccessToken(ctx, cacheKey, stored)
}
