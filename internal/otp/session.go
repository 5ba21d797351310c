// Package otp drives one email verification cycle: request a code, submit
// it, and resend once the countdown has run out.
package otp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/validate"
)

// DefaultTTL matches the backend code lifetime.
const DefaultTTL = 600

// Sender is the part of the backend client the session needs.
type Sender interface {
	SendOTP(ctx context.Context, in backend.SendOTPRequest) error
	VerifyOTP(ctx context.Context, in backend.VerifyOTPRequest) error
}

// Session wraps persisted OTP state with the operations allowed on it.
type Session struct {
	// call serializes backend calls. mu guards state and is never held
	// across one.
	call   sync.Mutex
	mu     sync.Mutex
	state  model.OTPSession
	sender Sender
	now    func() time.Time
	tick   time.Duration
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTick sets the countdown interval. Defaults to one second.
func WithTick(d time.Duration) Option {
	return func(s *Session) { s.tick = d }
}

// New starts an idle session for email.
func New(sender Sender, email, name string, purpose model.Purpose, opts ...Option) *Session {
	return Resume(sender, model.OTPSession{
		Email:      strings.TrimSpace(email),
		Name:       strings.TrimSpace(name),
		Purpose:    purpose,
		State:      model.OTPIdle,
		TTLSeconds: DefaultTTL,
	}, opts...)
}

// Resume rebuilds a session from stored state. The countdown continues from
// the stored send time.
func Resume(sender Sender, state model.OTPSession, opts ...Option) *Session {
	if state.TTLSeconds <= 0 {
		state.TTLSeconds = DefaultTTL
	}
	if state.State == "" {
		state.State = model.OTPIdle
	}
	s := &Session{state: state, sender: sender, now: time.Now, tick: time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the state to persist.
func (s *Session) Snapshot() model.OTPSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining is the countdown value right now.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ExpiresInSeconds(s.now())
}

// Request sends a code and starts the countdown. A failed send leaves the
// session as it was.
func (s *Session) Request(ctx context.Context) error {
	s.call.Lock()
	defer s.call.Unlock()
	st := s.Snapshot()
	if st.Verified() {
		return nil
	}
	return s.send(ctx, st)
}

// Resend requests a fresh code once the countdown is over. While it is still
// running nothing is sent and sent is false.
func (s *Session) Resend(ctx context.Context) (sent bool, err error) {
	s.call.Lock()
	defer s.call.Unlock()
	st := s.Snapshot()
	if st.Verified() || st.ExpiresInSeconds(s.now()) > 0 {
		return false, nil
	}
	if err := s.send(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) send(ctx context.Context, st model.OTPSession) error {
	if err := validate.Email(st.Email); err != nil {
		return err
	}
	err := s.sender.SendOTP(ctx, backend.SendOTPRequest{
		Email:   st.Email,
		Name:    st.Name,
		Purpose: st.Purpose,
	})
	if err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.State = model.OTPSent
	s.state.SentAt = s.now()
	return nil
}

// Submit verifies code. Malformed codes never reach the backend. A rejected
// code keeps the session in the sent state with its countdown untouched.
func (s *Session) Submit(ctx context.Context, code string) error {
	s.call.Lock()
	defer s.call.Unlock()
	st := s.Snapshot()
	if st.Verified() {
		return nil
	}
	if st.State != model.OTPSent {
		return apperr.Validation("Request a verification code first.", nil)
	}
	code = strings.TrimSpace(code)
	if err := validate.OTPCode(code); err != nil {
		return err
	}
	err := s.sender.VerifyOTP(ctx, backend.VerifyOTPRequest{
		Email:   st.Email,
		OTP:     code,
		Purpose: st.Purpose,
	})
	if err != nil {
		return fmt.Errorf("verify code: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.State = model.OTPVerified
	return nil
}

// Countdown emits the remaining seconds immediately and then once per tick,
// closing after it has emitted zero or when ctx ends.
func (s *Session) Countdown(ctx context.Context) <-chan int {
	out := make(chan int, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			left := s.Remaining()
			select {
			case out <- left:
			case <-ctx.Done():
				return
			}
			if left == 0 {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
