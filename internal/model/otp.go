package model

import "time"

// OTPState is the client-side lifecycle of a verification code. There is no
// expired state: once the countdown reaches zero only resend is unlocked.
type OTPState string

const (
	OTPIdle     OTPState = "idle"
	OTPSent     OTPState = "sent"
	OTPVerified OTPState = "verified"
)

// OTPSession tracks one send/verify/resend cycle for an email address.
type OTPSession struct {
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Purpose    Purpose   `json:"purpose"`
	State      OTPState  `json:"state"`
	SentAt     time.Time `json:"sent_at,omitempty"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// Verified reports whether the code was accepted by the backend.
func (s OTPSession) Verified() bool {
	return s.State == OTPVerified
}

// ExpiresInSeconds is the countdown value at now, never negative.
func (s OTPSession) ExpiresInSeconds(now time.Time) int {
	if s.State != OTPSent || s.SentAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.SentAt)
	remaining := time.Duration(s.TTLSeconds)*time.Second - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round up so a countdown started at 600 reads 600 until a full second
	// has passed.
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}
