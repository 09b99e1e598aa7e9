// Package auth implements the control-plane's single authentication
// primitive: a process-wide shared secret compared in constant time against
// the X-RC-Token request header. There is no user/session/login model in
// this system — see DESIGN.md for why the teacher's JWT/bcrypt stack was
// dropped rather than adapted here.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// TokenValidator holds the process-wide admin secret read from RC_ADMIN_TOKEN.
type TokenValidator struct {
	secret string
}

// New builds a TokenValidator. An empty secret is valid input: it means the
// validator fails closed, rejecting every request regardless of what token
// is presented.
func New(secret string) *TokenValidator {
	return &TokenValidator{secret: secret}
}

// Check reports whether provided matches the configured secret. Comparison
// is constant-time and length-independent to avoid timing disclosure:
// both sides are hashed to a fixed-size SHA-256 digest before the
// constant-time compare.
func (v *TokenValidator) Check(provided string) bool {
	if v.secret == "" {
		return false
	}
	a := sha256.Sum256([]byte(v.secret))
	b := sha256.Sum256([]byte(provided))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
