// Package backend is the HTTP client for the ChefSync REST API. It owns the
// request/response shapes of the auth endpoints and turns every failure into
// an apperr classification.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/model"
)

const (
	pathDocumentTypes        = "/auth/documents/types/"
	pathSendOTP              = "/auth/send-otp/"
	pathVerifyOTP            = "/auth/verify-otp/"
	pathCompleteRegistration = "/auth/complete-registration/"
	pathUploadDocument       = "/auth/documents/upload-registration/"
	pathLogin                = "/auth/login/"
	pathApprovalStatus       = "/auth/approval-status/"
	pathResetRequest         = "/auth/password/reset/request/"
	pathResetConfirm         = "/auth/password/reset/confirm/"
)

// Client talks to the backend under baseURL (for example
// "http://localhost:8000/api").
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger attaches a logger for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithTimeout bounds every request; zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New builds a Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDocumentTypes fetches the requirements for role.
func (c *Client) ListDocumentTypes(ctx context.Context, role model.Role) ([]model.DocumentType, error) {
	q := url.Values{"role": []string{string(role)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathDocumentTypes+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build document types request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Network(fmt.Errorf("read document types: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Server(resp.StatusCode, "Unable to load the required documents. Please try again.")
	}
	types, err := parseDocumentTypes(body)
	if err != nil {
		return nil, apperr.Server(resp.StatusCode, "Unable to load the required documents. Please try again.")
	}
	return types, nil
}

// SendOTPRequest is the body of send-otp.
type SendOTPRequest struct {
	Email   string        `json:"email"`
	Name    string        `json:"name"`
	Purpose model.Purpose `json:"purpose"`
}

// SendOTP asks the backend to email a fresh code.
func (c *Client) SendOTP(ctx context.Context, in SendOTPRequest) error {
	return c.postJSON(ctx, pathSendOTP, in, nil)
}

// VerifyOTPRequest is the body of verify-otp.
type VerifyOTPRequest struct {
	Email   string        `json:"email"`
	OTP     string        `json:"otp"`
	Purpose model.Purpose `json:"purpose"`
}

// VerifyOTP checks a code. A wrong or expired code is a rejection error.
func (c *Client) VerifyOTP(ctx context.Context, in VerifyOTPRequest) error {
	return c.postJSON(ctx, pathVerifyOTP, in, nil)
}

// RegistrationRequest is the body of complete-registration.
type RegistrationRequest struct {
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Password        string     `json:"password"`
	ConfirmPassword string     `json:"confirm_password"`
	Role            model.Role `json:"role"`
	PhoneNo         string     `json:"phone_no"`
	Address         string     `json:"address"`
}

// User is the account summary returned by the backend.
type User struct {
	ID             int        `json:"user_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           model.Role `json:"role"`
	ApprovalStatus string     `json:"approval_status,omitempty"`
}

// RegistrationResult is the success body of complete-registration.
type RegistrationResult struct {
	User   User          `json:"user"`
	Tokens *model.Tokens `json:"tokens,omitempty"`
}

// CompleteRegistration creates the account.
func (c *Client) CompleteRegistration(ctx context.Context, in RegistrationRequest) (*RegistrationResult, error) {
	var out RegistrationResult
	if err := c.postJSON(ctx, pathCompleteRegistration, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginResult is the success body of login.
type LoginResult struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    User   `json:"user"`
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	in := map[string]string{"email": email, "password": password}
	var out LoginResult
	if err := c.postJSON(ctx, pathLogin, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApprovalStatus is the body of approval-status.
type ApprovalStatus struct {
	Status  string `json:"approval_status"`
	Message string `json:"message,omitempty"`
}

// CheckApprovalStatus reports whether an admin has approved the account
// behind accessToken.
func (c *Client) CheckApprovalStatus(ctx context.Context, accessToken string) (*ApprovalStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathApprovalStatus, nil)
	if err != nil {
		return nil, fmt.Errorf("build approval status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	var out ApprovalStatus
	if err := c.roundTrip(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestPasswordReset emails a reset code.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.postJSON(ctx, pathResetRequest, map[string]string{"email": email}, nil)
}

// ConfirmResetRequest is the body of password reset confirm.
type ConfirmResetRequest struct {
	Email           string `json:"email"`
	OTP             string `json:"otp"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ConfirmPasswordReset sets a new password using an emailed code.
func (c *Client) ConfirmPasswordReset(ctx context.Context, in ConfirmResetRequest) error {
	return c.postJSON(ctx, pathResetConfirm, in, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(req, out)
}

// roundTrip sends req and decodes a 2xx body into out when out is non-nil.
func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Server(resp.StatusCode, "")
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ctxErr)
		}
		c.log.Warn("backend request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return nil, apperr.Network(err)
	}
	c.log.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}
