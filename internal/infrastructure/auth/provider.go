package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

type credentialKey struct{}

// WithCredential attaches a bearer token to ctx. It takes precedence over any configured token.
func WithCredential(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, credentialKey{}, token)
}

func CredentialFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(credentialKey{}).(string)
	return token, ok && token != ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Provider resolves credentials from the call context, then a static token, then a token file.
// The token file is re-read on every call so an external refresher can rotate it.
type Provider struct {
	staticToken string
	tokenFile   string
}

func NewProvider(staticToken, tokenFile string) *Provider {
	return &Provider{
		staticToken: strings.TrimSpace(staticToken),
		tokenFile:   strings.TrimSpace(tokenFile),
	}
}

func (p *Provider) Credential(ctx context.Context) (string, error) {
	if token, ok := CredentialFromContext(ctx); ok {
		return token, nil
	}
	if p.staticToken != "" {
		return p.staticToken, nil
	}
	if p.tokenFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(p.tokenFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
