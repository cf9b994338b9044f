package authflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
)

// authorizeStatic validates a supplied bot/API token with one lightweight
// provider call and persists it directly. No browser step, no expiry, no
// refresh capability.
func (o *Orchestrator) authorizeStatic(ctx context.Context, spec *platforms.Spec, identifier string, inputs platforms.Fields) (*credential.Credential, error) {
	tokenField := tokenFieldName(spec)
	token := inputs[tokenField]
	if token == "" {
		f, _ := spec.Field(tokenField)
		return nil, &credential.ValidationError{
			Platform: spec.Platform,
			Field:    tokenField,
			Flag:     f.Flag,
			EnvVar:   f.EnvVar,
		}
	}

	if err := o.validateStaticToken(ctx, spec, token, inputs); err != nil {
		return nil, err
	}

	return &credential.Credential{
		Platform:    spec.Platform,
		Identifier:  identifier,
		Protocol:    spec.Protocol,
		AccessToken: token,
	}, nil
}

// tokenFieldName returns the field carrying the static token itself.
func tokenFieldName(spec *platforms.Spec) string {
	for _, f := range spec.Fields {
		if f.CredentialKey == platforms.CredKeyAccessToken {
			return f.Name
		}
	}
	return platforms.CredKeyAccessToken
}

// validateStaticToken performs the platform's declared validation call and
// rejects tokens the provider does not recognize.
func (o *Orchestrator) validateStaticToken(ctx context.Context, spec *platforms.Spec, token string, inputs platforms.Fields) error {
	if spec.Validate == nil {
		return nil
	}

	endpoint := expandPlaceholders(spec.Validate.URL, token, inputs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: building validation request: %w", spec.Platform, err)
	}
	if spec.Validate.AuthorizationHeader != "" {
		req.Header.Set("Authorization", expandPlaceholders(spec.Validate.AuthorizationHeader, token, inputs))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: token validation call failed: %w", spec.Platform, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &credential.ValidationError{
			Platform: spec.Platform,
			Reason:   fmt.Sprintf("provider rejected the supplied token (status %d); check the token and try again", resp.StatusCode),
		}
	}
	return nil
}

// expandPlaceholders substitutes {token} and {field_name} references.
func expandPlaceholders(template, token string, inputs platforms.Fields) string {
	out := strings.ReplaceAll(template, "{token}", token)
	for name, value := range inputs {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}
