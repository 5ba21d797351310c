package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/config"
	"github.com/chefsync/onboarding/internal/flow"
	"github.com/chefsync/onboarding/internal/intake"
	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/signing"
	"github.com/chefsync/onboarding/internal/storage"
	"github.com/chefsync/onboarding/internal/submit"
	"github.com/chefsync/onboarding/internal/testutil"
)

const goodCode = "482913"

type fakeBackend struct {
	mu      sync.Mutex
	sends   int
	uploads []string
}

func (f *fakeBackend) SendOTP(context.Context, backend.SendOTPRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return nil
}

func (f *fakeBackend) VerifyOTP(_ context.Context, in backend.VerifyOTPRequest) error {
	if in.OTP != goodCode {
		return apperr.Rejection(400, "Invalid verification code. Please try again.")
	}
	return nil
}

func (f *fakeBackend) ListDocumentTypes(_ context.Context, role model.Role) ([]model.DocumentType, error) {
	return []model.DocumentType{
		{ID: 1, Name: "Food Safety Certificate", IsRequired: true, AllowedExtensions: []string{"pdf", "jpg", "png"}, MaxFileSizeMB: 5},
		{ID: 2, Name: "Kitchen Photos", IsRequired: true, AllowedExtensions: []string{"jpg", "png"}, MaxFileSizeMB: 5},
	}, nil
}

func (f *fakeBackend) UploadRegistrationDocument(_ context.Context, req backend.UploadRequest) (*backend.UploadedDocument, error) {
	data, _ := io.ReadAll(req.Content)
	if req.Progress != nil {
		req.Progress(int64(len(data)))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req.FileName)
	return &backend.UploadedDocument{ID: len(f.uploads)}, nil
}

func (f *fakeBackend) CompleteRegistration(_ context.Context, in backend.RegistrationRequest) (*backend.RegistrationResult, error) {
	res := &backend.RegistrationResult{User: backend.User{ID: 7, Email: in.Email, Role: in.Role}}
	if in.Role == model.RoleCustomer {
		res.Tokens = &model.Tokens{Access: "reg-access", Refresh: "reg-refresh"}
	}
	return res, nil
}

func (f *fakeBackend) Login(_ context.Context, email, _ string) (*backend.LoginResult, error) {
	return &backend.LoginResult{Access: "login-access", Refresh: "login-refresh", User: backend.User{ID: 7, Email: email}}, nil
}

func (f *fakeBackend) RequestPasswordReset(context.Context, string) error { return nil }

func (f *fakeBackend) ConfirmPasswordReset(context.Context, backend.ConfirmResetRequest) error {
	return nil
}

// syncDispatcher uploads in the request goroutine so responses that follow
// see the final document states.
type syncDispatcher struct {
	ctrl *flow.Controller
}

func (d *syncDispatcher) Dispatch(ctx context.Context, id string) error {
	return d.ctrl.UploadPending(ctx, id)
}

type testServer struct {
	http    *httptest.Server
	backend *fakeBackend
	signer  *signing.Signer
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		SessionTTL:     time.Hour,
		MaxUploadBytes: 15 << 20,
		RateLimit:      1000,
		RateBurst:      1000,
		AllowedOrigins: []string{"*"},
	}
	for _, m := range mutate {
		m(cfg)
	}
	fb := &fakeBackend{}
	d := &syncDispatcher{}
	in := intake.New(storage.NewMemoryBlobs(), fb)
	ctrl := flow.NewController(storage.NewMemoryStore(), fb, fb, in, submit.New(fb, nil), flow.WithDispatcher(d))
	d.ctrl = ctrl
	signer := signing.NewSigner([]byte("test-secret"))
	srv := New(cfg, ctrl, flow.NewPasswordReset(fb), fb, signer, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{http: ts, backend: fb, signer: signer}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// verified starts a registration, verifies the email and returns the id and
// token.
func (ts *testServer) verified(t *testing.T) (string, string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/registrations", "", map[string]string{"first_name": "Asha", "email": "asha@example.com"})
	expectStatus(t, resp, http.StatusCreated)
	started := decode[registrationView](t, resp)
	if started.Token == "" || started.OTPExpiresIn != 600 || started.CanResend {
		t.Fatalf("unexpected start view: %+v", started)
	}
	id := started.Registration.ID
	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/otp/verify", started.Token, map[string]string{"code": goodCode})
	expectStatus(t, resp, http.StatusOK)
	if v := decode[registrationView](t, resp); v.Registration.Step != model.StepRoleSelection {
		t.Fatalf("step after verify = %s", v.Registration.Step)
	}
	return id, started.Token
}

type file struct {
	typeID string
	name   string
	data   []byte
}

func multipartBody(t *testing.T, files ...file) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		if err := mw.WriteField("document_type_id", f.typeID); err != nil {
			t.Fatalf("write field: %v", err)
		}
		fw, err := mw.CreateFormFile("file", f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(f.data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, id, token string, files ...file) *http.Response {
	t.Helper()
	body, ctype := multipartBody(t, files...)
	req, _ := http.NewRequest(http.MethodPost, ts.http.URL+"/registrations/"+id+"/documents", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set(TokenHeader, token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestCookRegistration(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.verified(t)

	resp := ts.do(t, http.MethodPut, "/registrations/"+id+"/role", token, map[string]string{"role": "cook"})
	expectStatus(t, resp, http.StatusOK)
	v := decode[registrationView](t, resp)
	if v.StepInfo.Step != model.StepDocumentUpload || v.StepInfo.Number != 4 || v.StepInfo.Total != 5 {
		t.Fatalf("step info = %+v", v.StepInfo)
	}
	if v.CanContinue || len(v.MissingTypes) != 2 {
		t.Fatalf("documents should be missing: %+v", v)
	}

	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/documents/continue", token, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = ts.upload(t, id, token,
		file{"1", "certificate.pdf", testutil.PDF(1)},
		file{"2", "kitchen.png", testutil.PNG(2048)},
	)
	expectStatus(t, resp, http.StatusAccepted)

	resp = ts.do(t, http.MethodGet, "/registrations/"+id, token, nil)
	expectStatus(t, resp, http.StatusOK)
	v = decode[registrationView](t, resp)
	if !v.CanContinue {
		t.Fatalf("expected all required uploaded: %+v", v.Registration.Documents)
	}
	for _, d := range v.Registration.Documents {
		if d.Status != model.DocumentSuccess || d.Progress != 100 {
			t.Fatalf("document %s: status=%s progress=%d", d.FileName, d.Status, d.Progress)
		}
	}
	if got := strings.Join(ts.backend.uploads, ","); got != "certificate.pdf,kitchen.png" {
		t.Fatalf("upload order = %s", got)
	}

	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/documents/continue", token, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/complete", token, map[string]string{
		"password": "kitchen-42!", "confirm_password": "kitchen-42!",
	})
	expectStatus(t, resp, http.StatusOK)
	v = decode[registrationView](t, resp)
	if v.Outcome == nil || v.Outcome.Step != model.StepPendingApproval || v.Tokens != nil {
		t.Fatalf("cook outcome = %+v tokens=%v", v.Outcome, v.Tokens)
	}

	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/back", token, nil)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestCustomerRegistration(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.verified(t)

	resp := ts.do(t, http.MethodPut, "/registrations/"+id+"/role", token, map[string]string{"role": "customer"})
	expectStatus(t, resp, http.StatusOK)
	if v := decode[registrationView](t, resp); v.StepInfo.Step != model.StepPasswordSetup || v.StepInfo.Total != 4 {
		t.Fatalf("step info = %+v", v.StepInfo)
	}

	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/complete", token, map[string]string{
		"password": "short", "confirm_password": "short",
	})
	expectStatus(t, resp, http.StatusBadRequest)
	if e := decode[errorResponse](t, resp); e.Fields["password"] == nil {
		t.Fatalf("expected password field error: %+v", e)
	}

	resp = ts.do(t, http.MethodPost, "/registrations/"+id+"/complete", token, map[string]string{
		"password": "kitchen-42!", "confirm_password": "kitchen-42!", "phone_no": "+15551234567",
	})
	expectStatus(t, resp, http.StatusOK)
	v := decode[registrationView](t, resp)
	if v.Outcome == nil || v.Outcome.Redirect != submit.DashboardPath {
		t.Fatalf("outcome = %+v", v.Outcome)
	}
	if v.Tokens == nil || v.Tokens.Access != "login-access" {
		t.Fatalf("tokens = %+v", v.Tokens)
	}
}

func TestWrongCodeKeepsStep(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/registrations", "", map[string]string{"first_name": "Asha", "email": "asha@example.com"})
	expectStatus(t, resp, http.StatusCreated)
	started := decode[registrationView](t, resp)

	resp = ts.do(t, http.MethodPost, "/registrations/"+started.Registration.ID+"/otp/verify", started.Token, map[string]string{"code": "111111"})
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	resp = ts.do(t, http.MethodPost, "/registrations/"+started.Registration.ID+"/otp/verify", started.Token, map[string]string{"code": "12ab"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = ts.do(t, http.MethodGet, "/registrations/"+started.Registration.ID, started.Token, nil)
	if v := decode[registrationView](t, resp); v.Registration.Step != model.StepEmailVerification {
		t.Fatalf("step = %s", v.Registration.Step)
	}
}

func TestResendDuringCountdown(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/registrations", "", map[string]string{"first_name": "Asha", "email": "asha@example.com"})
	started := decode[registrationView](t, resp)

	resp = ts.do(t, http.MethodPost, "/registrations/"+started.Registration.ID+"/otp/resend", started.Token, nil)
	expectStatus(t, resp, http.StatusConflict)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if e := decode[errorResponse](t, resp); e.RetryAfter <= 0 || e.Kind != "countdown" {
		t.Fatalf("error = %+v", e)
	}
	if ts.backend.sends != 1 {
		t.Fatalf("sends = %d, want 1", ts.backend.sends)
	}
}

func TestOversizedDocumentStaysLocal(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.verified(t)
	ts.do(t, http.MethodPut, "/registrations/"+id+"/role", token, map[string]string{"role": "cook"})

	big := append(testutil.PNG(6*1024*1024), 0)
	resp := ts.upload(t, id, token, file{"2", "kitchen.png", big})
	expectStatus(t, resp, http.StatusAccepted)
	v := decode[registrationView](t, resp)
	if len(v.Registration.Documents) != 1 {
		t.Fatalf("documents = %d", len(v.Registration.Documents))
	}
	doc := v.Registration.Documents[0]
	if doc.Status != model.DocumentError || !strings.Contains(doc.Error, "(5 MB)") {
		t.Fatalf("document = %+v", doc)
	}
	if len(ts.backend.uploads) != 0 {
		t.Fatalf("oversized file reached the backend: %v", ts.backend.uploads)
	}

	resp = ts.do(t, http.MethodDelete, "/registrations/"+id+"/documents/"+doc.ID, token, nil)
	expectStatus(t, resp, http.StatusOK)
	if v := decode[registrationView](t, resp); len(v.Registration.Documents) != 0 {
		t.Fatalf("document not removed: %+v", v.Registration.Documents)
	}
}

func TestUploadRequiresTypeBeforeFile(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.verified(t)
	ts.do(t, http.MethodPut, "/registrations/"+id+"/role", token, map[string]string{"role": "cook"})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "kitchen.png")
	fw.Write(testutil.PNG(64))
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, ts.http.URL+"/registrations/"+id+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(TokenHeader, token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestRegistrationToken(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.verified(t)
	other, _ := ts.verified(t)

	tests := []struct {
		name  string
		token string
		path  string
		want  int
	}{
		{name: "missing", token: "", path: "/registrations/" + id, want: http.StatusUnauthorized},
		{name: "tampered", token: token + "0", path: "/registrations/" + id, want: http.StatusUnauthorized},
		{name: "other registration", token: token, path: "/registrations/" + other, want: http.StatusForbidden},
		{name: "expired", token: expiredToken(ts.signer, id), path: "/registrations/" + id, want: http.StatusUnauthorized},
		{name: "valid", token: token, path: "/registrations/" + id, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, tt.path, tt.token, nil)
			expectStatus(t, resp, tt.want)
		})
	}
}

func expiredToken(s *signing.Signer, id string) string {
	return s.Issue(id, -time.Minute)
}

func TestCancelRegistration(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.verified(t)
	resp := ts.do(t, http.MethodDelete, "/registrations/"+id, token, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = ts.do(t, http.MethodGet, "/registrations/"+id, token, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestDocumentTypes(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		role  string
		want  int
		count int
	}{
		{role: "cook", want: http.StatusOK, count: 2},
		{role: "customer", want: http.StatusOK, count: 0},
		{role: "admin", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := ts.do(t, http.MethodGet, "/document-types?role="+tt.role, "", nil)
		expectStatus(t, resp, tt.want)
		if tt.want != http.StatusOK {
			continue
		}
		body := decode[struct {
			DocumentTypes []model.DocumentType `json:"document_types"`
		}](t, resp)
		if len(body.DocumentTypes) != tt.count {
			t.Fatalf("role %s: %d types, want %d", tt.role, len(body.DocumentTypes), tt.count)
		}
	}
}

func TestPasswordReset(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/password-reset/request", "", map[string]string{"email": "asha@example.com"})
	expectStatus(t, resp, http.StatusAccepted)

	resp = ts.do(t, http.MethodPost, "/password-reset/confirm", "", map[string]string{
		"email": "asha@example.com", "otp": goodCode, "new_password": "abc", "confirm_password": "abc",
	})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = ts.do(t, http.MethodPost, "/password-reset/confirm", "", map[string]string{
		"email": "asha@example.com", "otp": goodCode, "new_password": "kitchen-42!", "confirm_password": "kitchen-42!",
	})
	expectStatus(t, resp, http.StatusOK)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})
	for i := 0; i < 2; i++ {
		expectStatus(t, ts.do(t, http.MethodGet, "/document-types?role=customer", "", nil), http.StatusOK)
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/document-types?role=customer", "", nil), http.StatusTooManyRequests)
	expectStatus(t, ts.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.AllowedOrigins = []string{"https://app.chefsync.test"}
	})
	req, _ := http.NewRequest(http.MethodOptions, ts.http.URL+"/registrations", nil)
	req.Header.Set("Origin", "https://app.chefsync.test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.chefsync.test" {
		t.Fatalf("allow origin = %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), TokenHeader) {
		t.Fatal("token header not allowed")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{name: "forwarded", header: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.2.3.4:5", want: "10.0.0.1"},
		{name: "real ip", header: map[string]string{"X-Real-IP": "10.0.0.9"}, remote: "1.2.3.4:5", want: "10.0.0.9"},
		{name: "remote", remote: "1.2.3.4:5", want: "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := clientIP(r); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
