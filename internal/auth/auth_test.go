package auth

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
)

func TestCredentialFromQuery(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		cred, err := CredentialFromQuery(config.AuthModeNone, url.Values{"apiKey": {"x"}})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if cred != "" {
			t.Fatalf("cred=%q, want empty", cred)
		}
	})

	t.Run("api_key", func(t *testing.T) {
		cred, err := CredentialFromQuery(config.AuthModeAPIKey, url.Values{"apiKey": {"a"}})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if cred != "a" {
			t.Fatalf("cred=%q, want %q", cred, "a")
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := CredentialFromQuery(config.AuthModeAPIKey, url.Values{})
		if !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("err=%v, want %v", err, ErrMissingCredentials)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := CredentialFromQuery(config.AuthMode("jwt"), url.Values{}); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestCredentialFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/signal?apiKey=query", nil)
	r.Header.Set("Authorization", "Bearer bearer")
	r.Header.Set("X-API-Key", "header")

	cred, err := CredentialFromRequest(config.AuthModeAPIKey, r)
	if err != nil || cred != "header" {
		t.Fatalf("cred=%q err=%v, want header", cred, err)
	}

	r.Header.Del("X-API-Key")
	cred, err = CredentialFromRequest(config.AuthModeAPIKey, r)
	if err != nil || cred != "bearer" {
		t.Fatalf("cred=%q err=%v, want bearer", cred, err)
	}

	r.Header.Del("Authorization")
	cred, err = CredentialFromRequest(config.AuthModeAPIKey, r)
	if err != nil || cred != "query" {
		t.Fatalf("cred=%q err=%v, want query", cred, err)
	}

	r = httptest.NewRequest("GET", "/signal", nil)
	if _, err := CredentialFromRequest(config.AuthModeAPIKey, r); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err=%v, want %v", err, ErrMissingCredentials)
	}
}

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthMode: config.AuthModeNone})
	if err != nil || v != nil {
		t.Fatalf("none: v=%v err=%v, want nil/nil", v, err)
	}

	if _, err := NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey}); err == nil {
		t.Fatalf("expected error for api_key mode without key")
	}

	v, err = NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify("secret"); err != nil {
		t.Fatalf("Verify(secret): %v", err)
	}
	if err := v.Verify("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify(wrong)=%v, want %v", err, ErrInvalidCredentials)
	}
	if err := v.Verify(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify(\"\")=%v, want %v", err, ErrInvalidCredentials)
	}
}

func TestNewVerifier_PreviousKeyDuringRotation(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "new", APIKeyPrevious: "old"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	for _, key := range []string{"new", "old"} {
		if err := v.Verify(key); err != nil {
			t.Fatalf("Verify(%q): %v", key, err)
		}
	}
	if err := v.Verify("older"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify(older)=%v, want %v", err, ErrInvalidCredentials)
	}
}

func TestNewAPIKeyVerifier_RequiresKey(t *testing.T) {
	if _, err := NewAPIKeyVerifier("", ""); err == nil {
		t.Fatalf("expected error without keys")
	}
}
