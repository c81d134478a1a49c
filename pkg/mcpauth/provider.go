package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"zypher/internal/zerr"
	"zypher/internal/zlog"
)

// RedirectFunc is the pluggable "open in browser / show to user" hook
// invoked by RedirectToAuthorization once the authorization URL has been
// stamped with a fresh CSRF state.
type RedirectFunc func(ctx context.Context, authorizationURL string) error

// Provider implements the OAuth client-provider contract for a single MCP
// server endpoint: it owns the persisted client registration, tokens, PKCE
// verifier and CSRF state for that server's URL hash, and drives the
// authorization-code+PKCE exchange.
type Provider struct {
	serverURL   string
	hash        string
	redirectURL string

	storage    *Storage
	discoverer *Discoverer
	exchanger  *Exchanger
	httpClient *http.Client
	redirect   RedirectFunc

	lastTokenEndpoint string
}

// Options configures a new Provider.
type Options struct {
	ServerURL   string
	RedirectURL string
	Storage     *Storage
	HTTPClient  *http.Client
	Redirect    RedirectFunc
}

// NewProvider constructs a Provider for one MCP server. ServerURL and
// Storage are required; Redirect defaults to a no-op that fails loudly,
// since a provider with no way to reach the user can never complete a
// fresh authorization.
func NewProvider(opts Options) (*Provider, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("mcpauth: ServerURL is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("mcpauth: Storage is required")
	}
	redirect := opts.Redirect
	if redirect == nil {
		redirect = func(context.Context, string) error {
			return fmt.Errorf("mcpauth: no redirect handler configured")
		}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{
		serverURL:   opts.ServerURL,
		hash:        ServerHash(opts.ServerURL),
		redirectURL: opts.RedirectURL,
		storage:     opts.Storage,
		discoverer:  NewDiscoverer(httpClient),
		exchanger:   NewExchanger(httpClient),
		httpClient:  httpClient,
		redirect:    redirect,
	}, nil
}

// RedirectURL returns the stable callback URL for the life of the provider.
func (p *Provider) RedirectURL() string { return p.redirectURL }

// ClientMetadata returns the RFC 7591 registration payload this provider
// will submit for dynamic client registration.
func (p *Provider) ClientMetadata() ClientMetadata {
	return ClientMetadata{
		ClientName:              "zypher-mcp-client",
		RedirectURIs:            []string{p.redirectURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
}

// ClientInformation reads the persisted registration, if any.
func (p *Provider) ClientInformation() (*ClientInformation, error) {
	info, ok, err := p.storage.LoadClientInformation(p.hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return info, nil
}

// SaveClientInformation atomically replaces the persisted registration.
func (p *Provider) SaveClientInformation(info *ClientInformation) error {
	return p.storage.SaveClientInformation(p.hash, info)
}

// Tokens returns the persisted tokens, or nil if absent or expired.
func (p *Provider) Tokens() (*Tokens, error) {
	tokens, ok, err := p.storage.LoadTokens(p.hash, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return tokens, nil
}

// SaveTokens persists tokens with their computed ExpiresAt.
func (p *Provider) SaveTokens(tokens *Tokens) error {
	return p.storage.SaveTokens(p.hash, tokens)
}

// CodeVerifier returns the pending PKCE verifier, if any.
func (p *Provider) CodeVerifier() (string, bool, error) {
	return p.storage.LoadCodeVerifier(p.hash)
}

// SaveCodeVerifier persists the PKCE verifier until it is consumed by a
// token exchange.
func (p *Provider) SaveCodeVerifier(verifier string) error {
	return p.storage.SaveCodeVerifier(p.hash, verifier)
}

// ClearAuthData removes every persisted artifact for this server.
func (p *Provider) ClearAuthData() error {
	return p.storage.ClearAll(p.hash)
}

// RegisterClient performs RFC 7591 dynamic client registration against
// registrationEndpoint and persists the resulting ClientInformation.
func (p *Provider) RegisterClient(ctx context.Context, registrationEndpoint string) (*ClientInformation, error) {
	body, err := json.Marshal(p.ClientMetadata())
	if err != nil {
		return nil, fmt.Errorf("marshal client metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &zerr.OAuthError{Reason: "dynamic client registration request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &zerr.OAuthError{Reason: "read registration response", Cause: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &zerr.OAuthError{Reason: fmt.Sprintf("registration endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var info ClientInformation
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, &zerr.OAuthError{Reason: "parse registration response", Cause: err}
	}
	if err := p.SaveClientInformation(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RedirectToAuthorization generates a fresh CSRF state, appends it (and a
// freshly generated PKCE challenge) to authorizationURL, persists both, and
// invokes the configured redirect hook.
func (p *Provider) RedirectToAuthorization(ctx context.Context, authorizationURL string) error {
	state, err := GenerateState()
	if err != nil {
		return &zerr.OAuthError{Reason: "generate csrf state", Cause: err}
	}
	pkce, err := GeneratePKCE()
	if err != nil {
		return &zerr.OAuthError{Reason: "generate pkce challenge", Cause: err}
	}
	if err := p.storage.SaveState(p.hash, state); err != nil {
		return err
	}
	if err := p.SaveCodeVerifier(pkce.CodeVerifier); err != nil {
		return err
	}

	u, err := url.Parse(authorizationURL)
	if err != nil {
		return &zerr.OAuthError{Reason: "parse authorization url", Cause: err}
	}
	q := u.Query()
	q.Set("state", state)
	q.Set("code_challenge", pkce.CodeChallenge)
	q.Set("code_challenge_method", pkce.CodeChallengeMethod)
	u.RawQuery = q.Encode()

	return p.redirect(ctx, u.String())
}

// HandleCallback validates the CSRF state from an authorization callback,
// exchanges the code for tokens, and persists them. The persisted state is
// cleared unconditionally so a mismatched or replayed callback can never
// succeed twice.
func (p *Provider) HandleCallback(ctx context.Context, code, receivedState string) (*Tokens, error) {
	expected, ok, err := p.storage.LoadState(p.hash)
	if err != nil {
		return nil, err
	}
	_ = p.storage.DeleteState(p.hash)

	if !ok || receivedState != expected {
		zlog.Audit(zlog.AuditEvent{Action: "oauth_callback", Outcome: "failure", ServerID: p.hash, Detail: "csrf state mismatch"})
		_ = p.ClearAuthData()
		return nil, &zerr.OAuthError{Reason: "csrf state mismatch"}
	}

	verifier, ok, err := p.CodeVerifier()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &zerr.OAuthError{Reason: "no pending pkce verifier"}
	}

	client, err := p.ClientInformation()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &zerr.OAuthError{Reason: "no registered client information"}
	}

	origin := originOf(p.serverURL)
	endpoints := p.tokenEndpointCandidates(ctx, origin)

	tokens, endpoint, err := p.exchanger.ExchangeCode(ctx, endpoints, *client, code, p.redirectURL, verifier)
	if err != nil {
		zlog.Audit(zlog.AuditEvent{Action: "token_exchange", Outcome: "failure", ServerID: p.hash, Error: err.Error()})
		return nil, &zerr.OAuthError{Reason: "token exchange failed", Cause: err}
	}
	p.lastTokenEndpoint = endpoint
	zlog.Audit(zlog.AuditEvent{Action: "token_exchange", Outcome: "success", ServerID: p.hash})

	if err := p.SaveTokens(tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Refresh exchanges the persisted refresh token for a new access token,
// preferring the endpoint that last succeeded.
func (p *Provider) Refresh(ctx context.Context) (*Tokens, error) {
	current, ok, err := p.storage.LoadTokens(p.hash, true)
	if err != nil {
		return nil, err
	}
	if !ok || current.RefreshToken == "" {
		return nil, &zerr.OAuthError{Reason: "no refresh token available"}
	}
	client, err := p.ClientInformation()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &zerr.OAuthError{Reason: "no registered client information"}
	}

	origin := originOf(p.serverURL)
	endpoints := p.tokenEndpointCandidates(ctx, origin)
	if p.lastTokenEndpoint != "" {
		endpoints = append([]string{p.lastTokenEndpoint}, endpoints...)
	}

	tokens, endpoint, err := p.exchanger.RefreshToken(ctx, endpoints, *client, current.RefreshToken)
	if err != nil {
		zlog.Audit(zlog.AuditEvent{Action: "token_refresh", Outcome: "failure", ServerID: p.hash, Error: err.Error()})
		return nil, &zerr.OAuthError{Reason: "token refresh failed", Cause: err}
	}
	p.lastTokenEndpoint = endpoint
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = current.RefreshToken
	}
	zlog.Audit(zlog.AuditEvent{Action: "token_refresh", Outcome: "success", ServerID: p.hash})

	if err := p.SaveTokens(tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (p *Provider) tokenEndpointCandidates(ctx context.Context, origin string) []string {
	if metadata, err := p.discoverer.Discover(ctx, origin); err == nil && metadata != nil && metadata.TokenEndpoint != "" {
		return []string{metadata.TokenEndpoint}
	}
	return candidateTokenEndpoints(p.serverURL, origin)
}

func originOf(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	return u.Scheme + "://" + u.Host
}
