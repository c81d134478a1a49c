package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"zypher/internal/transport"
	"zypher/internal/zerr"
	"zypher/pkg/mcpauth"
)

// CallbackHandler obtains the authorization code (and the state echoed back
// by the authorization server) once the user has completed the
// browser-based authorization-code flow. Implementations typically run a
// short-lived local HTTP listener at the provider's RedirectURL.
type CallbackHandler interface {
	WaitForCallback(ctx context.Context) (code string, state string, err error)
}

// NoCallbackHandler is the default when a client is registered against a
// remote endpoint without one configured: any OAuth challenge fails fast
// instead of blocking on a callback that can never arrive.
type NoCallbackHandler struct{}

func (NoCallbackHandler) WaitForCallback(ctx context.Context) (string, string, error) {
	return "", "", &zerr.OAuthError{Reason: "no callback handler configured for this server"}
}

// dialEndpoint is a test seam over transport.Dial.
var dialEndpoint = transport.Dial

func originOf(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	return u.Scheme + "://" + u.Host
}

// discoverMetadata locates the authorization-server metadata for this
// endpoint, preferring whatever the 401 challenge itself named: an RFC 9728
// resource_metadata document first, then an issuer realm, then the server
// origin's well-known endpoint.
func (c *Client) discoverMetadata(ctx context.Context, challenge *mcpauth.Challenge) *mcpauth.Metadata {
	if challenge.IsOAuthChallenge() {
		if challenge.ResourceMetadataURL != "" {
			if issuer, err := c.discoverer.ResolveProtectedResource(ctx, challenge.ResourceMetadataURL); err == nil && issuer != "" {
				if metadata, err := c.discoverer.Discover(ctx, issuer); err == nil && metadata != nil {
					return metadata
				}
			}
		}
		if challenge.Issuer != "" {
			if metadata, err := c.discoverer.Discover(ctx, challenge.Issuer); err == nil && metadata != nil {
				return metadata
			}
		}
	}
	metadata, _ := c.discoverer.Discover(ctx, originOf(c.endpoint.Remote.URL))
	return metadata
}

// runOAuthChallenge drives one round of the redirect/callback/token-exchange
// dance against c's auth provider: discover (or guess) the authorization and
// registration endpoints, register a client if none is persisted yet, hand
// the authorization URL to the provider's redirect hook (which this client
// wires to record PendingOAuthURL and publish connecting.awaitingOAuth),
// then block on the callback handler for the resulting code. unauthorized is
// the 401 that triggered the round; any WWW-Authenticate content embedded in
// its detail steers discovery.
func (c *Client) runOAuthChallenge(ctx context.Context, unauthorized *zerr.UnauthorizedError) error {
	if c.authProvider == nil {
		return &zerr.OAuthError{Reason: "remote endpoint has no oauth provider configured"}
	}

	info, err := c.authProvider.ClientInformation()
	if err != nil {
		return err
	}

	challenge := mcpauth.ChallengeFromError(errors.New(unauthorized.Detail))

	origin := originOf(c.endpoint.Remote.URL)
	metadata := c.discoverMetadata(ctx, challenge)

	if info == nil {
		registrationEndpoint := origin + "/register"
		if metadata != nil && metadata.RegistrationEndpoint != "" {
			registrationEndpoint = metadata.RegistrationEndpoint
		}
		info, err = c.authProvider.RegisterClient(ctx, registrationEndpoint)
		if err != nil {
			return &zerr.OAuthError{Reason: "dynamic client registration failed", Cause: err}
		}
	}

	authEndpoint := origin + "/authorize"
	if metadata != nil && metadata.AuthorizationEndpoint != "" {
		authEndpoint = metadata.AuthorizationEndpoint
	}
	u, err := url.Parse(authEndpoint)
	if err != nil {
		return &zerr.OAuthError{Reason: "invalid authorization endpoint", Cause: err}
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", info.ClientID)
	q.Set("redirect_uri", c.authProvider.RedirectURL())
	u.RawQuery = q.Encode()

	if err := c.authProvider.RedirectToAuthorization(ctx, u.String()); err != nil {
		return err
	}

	code, state, err := c.callback.WaitForCallback(ctx)
	if err != nil {
		return err
	}

	if _, err := c.authProvider.HandleCallback(ctx, code, state); err != nil {
		return err
	}
	return nil
}

// attemptConnectWithOAuth dials the endpoint, running at most one OAuth
// challenge/retry round: a 401 on the first attempt triggers the
// redirect/callback/exchange dance and a single retry; a second consecutive
// 401 is treated as fatal rather than looping indefinitely.
func (c *Client) attemptConnectWithOAuth(ctx context.Context) (transport.Client, error) {
	tr, err := dialEndpoint(ctx, c.endpoint, c.tokenSource())
	if err == nil {
		return tr, nil
	}

	var unauthorized *zerr.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		return nil, err
	}

	if oauthErr := c.runOAuthChallenge(ctx, unauthorized); oauthErr != nil {
		return nil, oauthErr
	}

	tr, err = dialEndpoint(ctx, c.endpoint, c.tokenSource())
	if err == nil {
		return tr, nil
	}

	var unauthorizedAgain *zerr.UnauthorizedError
	if errors.As(err, &unauthorizedAgain) {
		return nil, &zerr.FatalError{Cause: fmt.Errorf("two consecutive 401 responses from %s after oauth retry", c.endpoint.Remote.URL)}
	}
	return nil, err
}

// tokenSource adapts c's auth provider into a transport.TokenSource, used to
// inject the current bearer token on every outbound request of a remote
// connection.
func (c *Client) tokenSource() func(ctx context.Context) string {
	if c.authProvider == nil {
		return nil
	}
	return func(context.Context) string {
		tokens, err := c.authProvider.Tokens()
		if err != nil || tokens == nil {
			return ""
		}
		return tokens.AccessToken
	}
}
