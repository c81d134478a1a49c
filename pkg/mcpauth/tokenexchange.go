package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"zypher/internal/zlog"
)

// candidateTokenEndpoints returns the ordered fallback list used when
// authorization-server metadata discovery doesn't yield a token_endpoint:
// <serverUrl>/oauth/token, <serverUrl>/token, <origin>/oauth/token, <origin>/token.
func candidateTokenEndpoints(serverURL, origin string) []string {
	return []string{
		strings.TrimSuffix(serverURL, "/") + "/oauth/token",
		strings.TrimSuffix(serverURL, "/") + "/token",
		strings.TrimSuffix(origin, "/") + "/oauth/token",
		strings.TrimSuffix(origin, "/") + "/token",
	}
}

// tokenAuthMethod is one of the three client-authentication strategies tried
// in order against each candidate token endpoint.
type tokenAuthMethod int

const (
	authMethodBasic tokenAuthMethod = iota
	authMethodForm
	authMethodPublic
)

// Exchanger performs the token-endpoint leg of the authorization-code+PKCE
// flow and subsequent refreshes, trying candidate endpoints and client
// authentication methods in the order specified by the token exchange
// contract, and returning the endpoint that worked. It keeps no state
// between calls; Provider remembers that endpoint.
type Exchanger struct {
	httpClient *http.Client
}

// NewExchanger creates an Exchanger using httpClient, or http.DefaultClient
// if nil.
func NewExchanger(httpClient *http.Client) *Exchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Exchanger{httpClient: httpClient}
}

// ExchangeCode trades an authorization code for tokens, trying endpoints in
// order until one returns 2xx. It returns the tokens, the endpoint that
// succeeded (for subsequent refreshes), and an error only if every endpoint
// failed.
func (e *Exchanger) ExchangeCode(ctx context.Context, endpoints []string, client ClientInformation, code, redirectURI, codeVerifier string) (*Tokens, string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	}
	return e.tryEndpoints(ctx, endpoints, client, form)
}

// RefreshToken obtains a new access token using a refresh token, trying the
// same candidate endpoints (the remembered successful one should be tried
// first by the caller).
func (e *Exchanger) RefreshToken(ctx context.Context, endpoints []string, client ClientInformation, refreshToken string) (*Tokens, string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return e.tryEndpoints(ctx, endpoints, client, form)
}

func (e *Exchanger) tryEndpoints(ctx context.Context, endpoints []string, client ClientInformation, form url.Values) (*Tokens, string, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		for _, method := range []tokenAuthMethod{authMethodBasic, authMethodForm, authMethodPublic} {
			if method == authMethodBasic && client.ClientSecret == "" {
				continue
			}
			tokens, err := e.doTokenRequest(ctx, endpoint, client, method, form)
			if err == nil {
				return tokens, endpoint, nil
			}
			lastErr = err
			zlog.Debug("OAuthTokenExchange", "endpoint=%s method=%d failed: %v", endpoint, method, err)
		}
	}
	return nil, "", fmt.Errorf("token exchange exhausted all endpoints: %w", lastErr)
}

func (e *Exchanger) doTokenRequest(ctx context.Context, endpoint string, client ClientInformation, method tokenAuthMethod, form url.Values) (*Tokens, error) {
	body := url.Values{}
	for k, v := range form {
		body[k] = v
	}

	switch method {
	case authMethodForm:
		body.Set("client_id", client.ClientID)
		if client.ClientSecret != "" {
			body.Set("client_secret", client.ClientSecret)
		}
	case authMethodPublic:
		body.Set("client_id", client.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if method == authMethodBasic {
		req.SetBasicAuth(client.ClientID, client.ClientSecret)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("token endpoint %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var tokens Tokens
	if err := json.Unmarshal(respBody, &tokens); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	tokens.applyExpiry(timeNow())
	return &tokens, nil
}
