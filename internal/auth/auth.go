package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
)

type Verifier interface {
	Verify(credential string) error
}

// NewVerifier returns the verifier for cfg.AuthMode. AUTH_MODE=none (or an
// unset mode) has no verifier; callers skip verification entirely.
func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone, "":
		return nil, nil
	case config.AuthModeAPIKey:
		if cfg.APIKey == "" {
			return nil, errors.New("api_key auth mode requires an api key")
		}
		v, err := NewAPIKeyVerifier(cfg.APIKey, cfg.APIKeyPrevious)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

var ErrMissingCredentials = errors.New("missing credentials")

const apiKeyHeader = "X-API-Key"

// CredentialFromQuery reads the `apiKey` query parameter.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeNone, "":
		return "", nil
	case config.AuthModeAPIKey:
		if apiKey := q.Get("apiKey"); apiKey != "" {
			return apiKey, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// CredentialFromRequest prefers the X-API-Key header, then an
// `Authorization: Bearer` header, then the query string.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode == config.AuthModeNone || mode == "" {
		return "", nil
	}
	if v := strings.TrimSpace(r.Header.Get(apiKeyHeader)); v != "" {
		return v, nil
	}
	if v := r.Header.Get("Authorization"); v != "" {
		scheme, token, ok := strings.Cut(v, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	return CredentialFromQuery(mode, r.URL.Query())
}
