// Package mcpauth implements the OAuth 2.1 client-provider contract used by
// remote MCP transports: persistent storage of dynamic client registration,
// tokens, PKCE verifier and CSRF state, plus the authorization-code+PKCE
// flow itself with a pluggable "redirect to user agent" hook.
//
// It is grounded on the sibling pkg/oauth package's protocol mechanics
// (PKCE, metadata types) adapted from an in-memory server-protection model
// to a durable, per-server-URL-hash, client-side consumption model.
package mcpauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is subtracted from a token's lifetime when computing
// ExpiresAt, so callers treat a token as expired slightly before the server
// would reject it.
const DefaultExpiryMargin = 30 * time.Second

// ClientInformation is the dynamically-registered (or preconfigured) OAuth
// client identity for one MCP server.
type ClientInformation struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Tokens holds an access/refresh token pair as persisted to disk.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// IsExpired reports whether ExpiresAt has passed. DefaultExpiryMargin is not
// applied here; applyExpiry has already subtracted it when ExpiresAt was set.
func (t *Tokens) IsExpired() bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(t.ExpiresAt)
}

// applyExpiry computes ExpiresAt from ExpiresIn with the safety margin, per
// the "saveTokens computes expires_at = now + (expires_in - 30)s" contract.
func (t *Tokens) applyExpiry(now time.Time) {
	if t.ExpiresIn <= 0 {
		return
	}
	lifetime := time.Duration(t.ExpiresIn) * time.Second
	if lifetime > DefaultExpiryMargin {
		lifetime -= DefaultExpiryMargin
	}
	t.ExpiresAt = now.Add(lifetime)
}

// ToOAuth2Token adapts Tokens to golang.org/x/oauth2's Token type for reuse
// of its TokenSource machinery where convenient.
func (t *Tokens) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
}

// Metadata is the RFC 8414 OAuth Authorization Server Metadata document.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ClientMetadata is the RFC 7591 dynamic client registration request body.
type ClientMetadata struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// PKCEChallenge bundles a PKCE verifier with its S256 challenge.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}
