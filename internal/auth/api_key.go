package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKeyVerifier accepts any of a fixed set of keys. Two keys are configured
// while a deployment rotates API_KEY: the new one and API_KEY_PREVIOUS.
//
// Keys are compared as SHA-256 digests so the comparison time does not depend
// on the length of the configured key.
type APIKeyVerifier struct {
	digests [][sha256.Size]byte
}

func NewAPIKeyVerifier(keys ...string) (*APIKeyVerifier, error) {
	v := &APIKeyVerifier{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		v.digests = append(v.digests, sha256.Sum256([]byte(k)))
	}
	if len(v.digests) == 0 {
		return nil, errors.New("api_key auth mode requires an api key")
	}
	return v, nil
}

func (v *APIKeyVerifier) Verify(apiKey string) error {
	if apiKey == "" {
		return ErrInvalidCredentials
	}
	got := sha256.Sum256([]byte(apiKey))
	match := 0
	for i := range v.digests {
		match |= subtle.ConstantTimeCompare(got[:], v.digests[i][:])
	}
	if match != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
