package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/testutil"
)

const goodCode = "482913"

// upstream imitates the ChefSync auth endpoints the CLI talks to.
type upstream struct {
	mu        sync.Mutex
	uploads   []string
	completed []map[string]string
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/auth/send-otp/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]string{"message": "OTP sent"})
	})
	mux.HandleFunc("/auth/verify-otp/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["otp"] != goodCode {
			reply(w, http.StatusBadRequest, map[string]string{"error": "Invalid or expired OTP."})
			return
		}
		reply(w, http.StatusOK, map[string]string{"message": "verified"})
	})
	mux.HandleFunc("/auth/documents/types/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"document_types": []map[string]any{
			{"id": 1, "name": "Food Safety Certificate", "is_required": true, "allowed_file_types": "pdf, .JPG, png", "max_file_size_mb": 5},
		}})
	})
	mux.HandleFunc("/auth/documents/upload-registration/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		u.mu.Lock()
		u.uploads = append(u.uploads, r.MultipartForm.File["file_upload"][0].Filename)
		n := len(u.uploads)
		u.mu.Unlock()
		reply(w, http.StatusCreated, map[string]any{"document": map[string]any{"id": n}})
	})
	mux.HandleFunc("/auth/complete-registration/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		u.mu.Lock()
		u.completed = append(u.completed, body)
		u.mu.Unlock()
		res := map[string]any{"user": map[string]any{"user_id": 3, "email": body["email"], "role": body["role"]}}
		if body["role"] == "customer" {
			res["tokens"] = map[string]string{"access": "reg-access", "refresh": "reg-refresh"}
		}
		reply(w, http.StatusCreated, res)
	})
	mux.HandleFunc("/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"access": "login-access", "refresh": "login-refresh", "user": map[string]any{"user_id": 3}})
	})
	mux.HandleFunc("/auth/password/reset/request/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]string{"message": "sent"})
	})
	mux.HandleFunc("/auth/password/reset/confirm/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]string{"message": "reset"})
	})
	mux.HandleFunc("/auth/approval-status/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer login-access" {
			reply(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token."})
			return
		}
		reply(w, http.StatusOK, map[string]string{"approval_status": "approved"})
	})
	return mux
}

type env struct {
	url      string
	upstream *upstream
	creds    string
	dir      string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	u := &upstream{}
	ts := httptest.NewServer(u.handler())
	t.Cleanup(ts.Close)
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	t.Setenv("ONBOARD_CREDENTIALS_FILE", creds)
	t.Setenv("DATABASE_URL", "")
	return &env{url: ts.URL, upstream: u, creds: creds, dir: dir}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetArgs(append([]string{"--backend-url", e.url}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

func TestRegisterCustomer(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, lines(
		"Asha", "asha@example.com",
		"111111", goodCode,
		"1",
		"kitchen-42!", "kitchen-42!", "", "",
	), "register")
	if err != nil {
		t.Fatalf("register: %v\n%s", err, out)
	}
	for _, want := range []string{"Step 1 of 4: Personal Information", "Invalid or expired OTP.", "Email verified.", "Step 4 of 4: Create Password", "Welcome to ChefSync"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	tokens, ok, err := newFileCredentials(e.creds).Load()
	if err != nil || !ok || tokens.Access != "login-access" {
		t.Fatalf("credentials = %+v ok=%v err=%v", tokens, ok, err)
	}
}

func TestRegisterCook(t *testing.T) {
	e := newEnv(t)
	if err := newFileCredentials(e.creds).Save(context.Background(), model.Tokens{Access: "stale"}); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}
	pdf := filepath.Join(e.dir, "certificate.pdf")
	if err := os.WriteFile(pdf, testutil.PDF(1), 0o600); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	notes := filepath.Join(e.dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	out, err := e.run(t, lines(
		"Asha", "asha@example.com",
		goodCode,
		"cook",
		"continue",
		"add 1 "+notes,
		"remove 1",
		"add 1 "+pdf,
		"continue",
		"kitchen-42!", "kitchen-42!", "+15551234567", "12 Market Street",
	), "register")
	if err != nil {
		t.Fatalf("register: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Step 4 of 5: Upload Documents",
		"Please upload all required documents: Food Safety Certificate.",
		"File type '.txt' is not allowed",
		"certificate.pdf [1] success",
		"Application Submitted",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if len(e.upstream.uploads) != 1 || e.upstream.uploads[0] != "certificate.pdf" {
		t.Fatalf("uploads = %v", e.upstream.uploads)
	}
	if got := e.upstream.completed[0]; got["role"] != "cook" || got["phone_no"] != "+15551234567" {
		t.Fatalf("complete body = %v", got)
	}
	if _, ok, _ := newFileCredentials(e.creds).Load(); ok {
		t.Fatal("cook registration should clear saved credentials")
	}
}

func TestRegisterStopsWhenInputEnds(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, lines("Asha", "asha@example.com"), "register")
	if err == nil || !strings.Contains(err.Error(), errInputClosed.Error()) {
		t.Fatalf("err = %v, want input closed", err)
	}
}

func TestDocTypes(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "doc-types", "--role", "cook")
	if err != nil {
		t.Fatalf("doc-types: %v", err)
	}
	if !strings.Contains(out, "Food Safety Certificate\trequired\tpdf,jpg,png\t5MB") {
		t.Fatalf("output = %q", out)
	}
	if _, err := e.run(t, "", "doc-types", "--role", "customer"); err == nil {
		t.Fatal("customer has no document types")
	}
}

func TestCheckFile(t *testing.T) {
	e := newEnv(t)
	pdf := filepath.Join(e.dir, "certificate.pdf")
	os.WriteFile(pdf, testutil.PDF(2), 0o600)
	out, err := e.run(t, "", "check-file", "--type", "1", pdf)
	if err != nil {
		t.Fatalf("check-file: %v", err)
	}
	if !strings.Contains(out, "acceptable for Food Safety Certificate (2 pages)") {
		t.Fatalf("output = %q", out)
	}

	big := filepath.Join(e.dir, "big.png")
	os.WriteFile(big, append(testutil.PNG(6*1024*1024), 0), 0o600)
	_, err = e.run(t, "", "check-file", "--type", "1", big)
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum allowed size (5 MB)") {
		t.Fatalf("err = %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, lines("asha@example.com", "12", "kitchen-42!", "kitchen-42!", goodCode, "kitchen-42!", "kitchen-42!"), "reset-password")
	if err != nil {
		t.Fatalf("reset-password: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Enter the 6-digit code from your email.") {
		t.Fatalf("expected a code validation message:\n%s", out)
	}
	if !strings.Contains(out, "Your password has been reset.") {
		t.Fatalf("output = %s", out)
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run(t, "", "status"); err == nil {
		t.Fatal("status without credentials should fail")
	}
	newFileCredentials(e.creds).Save(context.Background(), model.Tokens{Access: "login-access", Refresh: "r"})
	out, err := e.run(t, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "approval status: approved") {
		t.Fatalf("output = %q", out)
	}
}

func TestFileCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	creds := newFileCredentials(path)
	if _, ok, err := creds.Load(); ok || err != nil {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}
	if err := creds.Save(context.Background(), model.Tokens{Access: "a", Refresh: "r"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
	if tokens, ok, _ := creds.Load(); !ok || tokens.Refresh != "r" {
		t.Fatalf("loaded %+v", tokens)
	}
	if err := creds.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := creds.Clear(context.Background()); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestFormatCountdown(t *testing.T) {
	tests := map[int]string{600: "10:00", 59: "0:59", 0: "0:00", 61: "1:01"}
	for in, want := range tests {
		if got := formatCountdown(in); got != want {
			t.Fatalf("formatCountdown(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSecretFallsBackWithoutTerminal(t *testing.T) {
	var out strings.Builder
	p := newPrompter(strings.NewReader("kitchen-42!\n"), &out)
	if p.tty != -1 {
		t.Fatalf("tty = %d for a non-terminal reader", p.tty)
	}
	got, err := p.secret("Password")
	if err != nil || got != "kitchen-42!" {
		t.Fatalf("secret = %q, %v", got, err)
	}
	if out.String() != "Password: " {
		t.Fatalf("output = %q", out.String())
	}

	f, err := os.CreateTemp(t.TempDir(), "answers")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if newPrompter(f, &out).tty != -1 {
		t.Fatal("a regular file is not a terminal")
	}
}
