// Package signing issues and checks the HMAC registration token that ties
// an unauthenticated client to its registration after the email step.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("malformed registration token")
	ErrSignature = errors.New("registration token signature mismatch")
	ErrExpired   = errors.New("registration token expired")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for a registration id and expiry.
func (s *Signer) Sign(registrationID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", registrationID, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one.
func (s *Signer) Validate(registrationID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(registrationID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Issue returns a token of the form id.expires.signature valid for ttl.
func (s *Signer) Issue(registrationID string, ttl time.Duration) string {
	exp := s.now().Add(ttl).Unix()
	return fmt.Sprintf("%s.%d.%s", registrationID, exp, s.Sign(registrationID, exp))
}

// Verify checks a token and returns the registration id it was issued for.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMalformed
	}
	id, expires, sig := parts[0], parts[1], parts[2]
	if !s.Validate(id, expires, sig) {
		return "", ErrSignature
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if s.now().Unix() >= exp {
		return "", ErrExpired
	}
	return id, nil
}
