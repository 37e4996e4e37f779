package auth

import (
	"sync"
)

// maxVerifiedTokens bounds the verified-token cache.
const maxVerifiedTokens = 16

// AdminVerifier checks bearer tokens against the configured argon2id hash.
// Tokens that verified once are remembered by fingerprint so repeated admin
// calls skip the 64 MiB argon2 derivation.
type AdminVerifier struct {
	hash string

	mu       sync.Mutex
	verified map[string]struct{}
}

// NewAdminVerifier validates encodedHash and returns a verifier for it.
func NewAdminVerifier(encodedHash string) (*AdminVerifier, error) {
	if _, err := parsePHC(encodedHash); err != nil {
		return nil, err
	}
	return &AdminVerifier{hash: encodedHash, verified: make(map[string]struct{})}, nil
}

// Verify reports whether token is the admin token.
func (v *AdminVerifier) Verify(token string) bool {
	if token == "" {
		return false
	}
	fp := Fingerprint(token)

	v.mu.Lock()
	_, ok := v.verified[fp]
	v.mu.Unlock()
	if ok {
		return true
	}

	match, err := VerifyToken(token, v.hash)
	if err != nil || !match {
		return false
	}

	v.mu.Lock()
	if len(v.verified) >= maxVerifiedTokens {
		clear(v.verified)
	}
	v.verified[fp] = struct{}{}
	v.mu.Unlock()
	return true
}
