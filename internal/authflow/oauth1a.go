package authflow

import (
	"context"
	"fmt"

	"github.com/dghubble/oauth1"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
)

// authorizeOAuth1a performs the three-legged OAuth 1.0a handshake: obtain a
// request token, send the user to the authorize page, capture the verifier on
// the loopback callback, then trade both for the permanent token pair. The
// result never expires and has no refresh capability.
func (o *Orchestrator) authorizeOAuth1a(ctx context.Context, spec *platforms.Spec, identifier string, inputs platforms.Fields) (*credential.Credential, error) {
	port := o.callbackPort(spec.OAuth1.CallbackPort)

	cfg := &oauth1.Config{
		ConsumerKey:    inputs["api_key"],
		ConsumerSecret: inputs["api_secret"],
		CallbackURL:    fmt.Sprintf("http://127.0.0.1:%d%s", port, spec.OAuth1.CallbackPath),
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: spec.OAuth1.RequestTokenURL,
			AuthorizeURL:    spec.OAuth1.AuthorizeURL,
			AccessTokenURL:  spec.OAuth1.AccessTokenURL,
		},
		HTTPClient: o.client,
	}

	requestToken, requestSecret, err := cfg.RequestToken()
	if err != nil {
		return nil, fmt.Errorf("%s: obtaining request token: %w", spec.Platform, err)
	}

	authorizationURL, err := cfg.AuthorizationURL(requestToken)
	if err != nil {
		return nil, fmt.Errorf("%s: building authorization URL: %w", spec.Platform, err)
	}

	listener := NewListener(port, spec.OAuth1.CallbackPath)
	if err := listener.Start(ctx); err != nil {
		return nil, err
	}

	if err := o.openBrowser(authorizationURL.String()); err != nil {
		listener.shutdown()
		return nil, fmt.Errorf("opening browser for %s authorization: %w (visit %s manually and retry)",
			spec.Platform, err, authorizationURL)
	}

	params, err := listener.Wait(ctx, o.timeout)
	if err != nil {
		return nil, err
	}

	if params.Get("denied") != "" {
		return nil, fmt.Errorf("%s: user denied authorization", spec.Platform)
	}
	// The echoed oauth_token is this protocol's forgery check: a callback for
	// a token we never requested is rejected before any exchange.
	if params.Get("oauth_token") != requestToken {
		return nil, fmt.Errorf("%w: callback oauth_token does not match the request token for %s",
			credential.ErrCSRFMismatch, spec.Platform)
	}
	verifier := params.Get("oauth_verifier")
	if verifier == "" {
		return nil, fmt.Errorf("%s: callback carried no oauth_verifier", spec.Platform)
	}

	accessToken, accessSecret, err := cfg.AccessToken(requestToken, requestSecret, verifier)
	if err != nil {
		return nil, &credential.ExchangeError{Platform: spec.Platform, Detail: err.Error()}
	}

	// The consumer pair stays out of the record; posting resolves it from
	// flags or environment on every run.
	return &credential.Credential{
		Platform:    spec.Platform,
		Identifier:  identifier,
		Protocol:    credential.ProtocolOAuth1a,
		AccessToken: accessToken,
		TokenSecret: accessSecret,
	}, nil
}
