package userdb

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Stored secrets carry a scheme prefix.
const (
	SchemePlain  = "plain:"
	SchemeSHA256 = "sha256:"
	SchemeBcrypt = "bcrypt:"
)

// HashPassword returns a bcrypt secret for pw.
func HashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return SchemeBcrypt + string(h), nil
}

// DigestSecret returns a sha256 secret for pw. Such secrets can answer
// challenge logins without storing pw in clear.
func DigestSecret(pw string) string {
	return SchemeSHA256 + ChallengeKey(pw)
}

// ChallengeKey is the key a client derives from its password.
func ChallengeKey(pw string) string {
	sum := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(sum[:])
}

// ChallengeResponse is what a client sends back for seed.
func ChallengeResponse(key, seed string) string {
	sum := sha256.Sum256([]byte(seed + key))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a clear password against a stored secret. Secrets
// without a known prefix are treated as clear text.
func VerifyPassword(secret, pw string) bool {
	switch {
	case strings.HasPrefix(secret, SchemeBcrypt):
		return bcrypt.CompareHashAndPassword([]byte(secret[len(SchemeBcrypt):]), []byte(pw)) == nil
	case strings.HasPrefix(secret, SchemeSHA256):
		return equal(secret[len(SchemeSHA256):], ChallengeKey(pw))
	case strings.HasPrefix(secret, SchemePlain):
		return equal(secret[len(SchemePlain):], pw)
	default:
		return equal(secret, pw)
	}
}

// SupportsChallenge reports whether secret can verify a challenge response.
func SupportsChallenge(secret string) bool {
	_, ok := challengeKey(secret)
	return ok
}

// VerifyChallenge checks a client's response to seed.
func VerifyChallenge(secret, seed, response string) bool {
	key, ok := challengeKey(secret)
	if !ok {
		return false
	}
	return equal(ChallengeResponse(key, seed), strings.ToLower(response))
}

func challengeKey(secret string) (string, bool) {
	switch {
	case strings.HasPrefix(secret, SchemeBcrypt):
		return "", false
	case strings.HasPrefix(secret, SchemeSHA256):
		return strings.ToLower(secret[len(SchemeSHA256):]), true
	case strings.HasPrefix(secret, SchemePlain):
		return ChallengeKey(secret[len(SchemePlain):]), true
	default:
		return ChallengeKey(secret), true
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
