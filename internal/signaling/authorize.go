package signaling

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
)

// Authorizer decides whether a connection may register its peer id.
// frameCredential is the apiKey of an auth frame, or "" when only the upgrade
// request has been seen.
type Authorizer interface {
	Authorize(r *http.Request, frameCredential string) error
}

type AuthorizerFunc func(r *http.Request, frameCredential string) error

func (f AuthorizerFunc) Authorize(r *http.Request, frameCredential string) error {
	return f(r, frameCredential)
}

var AllowAll Authorizer = AuthorizerFunc(func(*http.Request, string) error { return nil })

// NewAuthorizer enforces AUTH_MODE for relay connections. An auth frame's
// credential wins over the X-API-Key header, the bearer header and the
// `apiKey` query parameter, in that order.
func NewAuthorizer(cfg config.Config) (Authorizer, error) {
	v, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return AllowAll, nil
	}
	mode := cfg.AuthMode
	return AuthorizerFunc(func(r *http.Request, frameCredential string) error {
		cred := strings.TrimSpace(frameCredential)
		if cred == "" {
			var err error
			if cred, err = auth.CredentialFromRequest(mode, r); err != nil {
				return err
			}
		}
		return v.Verify(cred)
	}), nil
}

// isAuthMissing separates "send an auth frame" from "wrong credentials".
func isAuthMissing(err error) bool {
	return errors.Is(err, auth.ErrMissingCredentials)
}

func unauthorizedMessage(err error) string {
	if err == nil || errors.Is(err, auth.ErrMissingCredentials) || errors.Is(err, auth.ErrInvalidCredentials) {
		return "unauthorized"
	}
	// Misconfiguration details stay in the relay's log.
	return "authorization unavailable"
}
