package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
)

// authorizeOAuth2 runs the authorization-code grant: build the authorization
// URL with a random state nonce, open the browser, wait for the loopback
// callback, verify the state, then exchange the code at the token endpoint.
func (o *Orchestrator) authorizeOAuth2(ctx context.Context, spec *platforms.Spec, identifier string, inputs platforms.Fields) (*credential.Credential, error) {
	port := o.callbackPort(spec.OAuth2.CallbackPort)
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d%s", port, spec.OAuth2.CallbackPath)

	cfg := &oauth2.Config{
		ClientID:     inputs[platforms.CredKeyClientID],
		ClientSecret: inputs[platforms.CredKeyClientSecret],
		RedirectURL:  redirectURL,
		Scopes:       spec.OAuth2.Scopes,
		Endpoint:     spec.OAuth2.Endpoint,
	}

	state := uuid.NewString()

	var authOpts []oauth2.AuthCodeOption
	var exchangeOpts []oauth2.AuthCodeOption
	if spec.OAuth2.UsePKCE {
		verifier := oauth2.GenerateVerifier()
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}
	authURL := cfg.AuthCodeURL(state, authOpts...)

	// Bind before opening the browser so a port conflict fails fast.
	listener := NewListener(port, spec.OAuth2.CallbackPath)
	if err := listener.Start(ctx); err != nil {
		return nil, err
	}

	if err := o.openBrowser(authURL); err != nil {
		listener.shutdown()
		return nil, fmt.Errorf("opening browser for %s authorization: %w (visit %s manually and retry)",
			spec.Platform, err, authURL)
	}

	params, err := listener.Wait(ctx, o.timeout)
	if err != nil {
		return nil, err
	}

	if errParam := params.Get("error"); errParam != "" {
		return nil, fmt.Errorf("%s: provider refused authorization: %s (%s)",
			spec.Platform, errParam, params.Get("error_description"))
	}
	if params.Get("state") != state {
		return nil, fmt.Errorf("%w: callback state does not match the nonce sent for %s; discard this attempt and authorize again",
			credential.ErrCSRFMismatch, spec.Platform)
	}
	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%s: callback carried no authorization code", spec.Platform)
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, o.client)
	token, err := cfg.Exchange(exchangeCtx, code, exchangeOpts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &credential.ExchangeError{
				Platform: spec.Platform,
				Status:   retrieveErr.Response.StatusCode,
				Detail:   retrieveErr.ErrorCode,
			}
		}
		return nil, fmt.Errorf("%s: exchanging authorization code: %w", spec.Platform, err)
	}

	rec := &credential.Credential{
		Platform:     spec.Platform,
		Identifier:   identifier,
		Protocol:     credential.ProtocolOAuth2AuthCode,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scopes:       spec.OAuth2.Scopes,
	}
	if rec.RefreshToken != "" {
		rec.ClientID = cfg.ClientID
		rec.ClientSecret = cfg.ClientSecret
	}
	if !token.Expiry.IsZero() {
		rec.ExpiresAt = token.Expiry.UTC()
	}
	return rec, nil
}
