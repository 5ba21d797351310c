package model

import (
	"reflect"
	"testing"
	"time"
)

func TestExpiresInSeconds(t *testing.T) {
	sent := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := OTPSession{State: OTPSent, SentAt: sent, TTLSeconds: 600}

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{name: "just_sent", at: sent, want: 600},
		{name: "half_second", at: sent.Add(500 * time.Millisecond), want: 600},
		{name: "one_second", at: sent.Add(time.Second), want: 599},
		{name: "almost_done", at: sent.Add(599*time.Second + time.Millisecond), want: 1},
		{name: "elapsed", at: sent.Add(600 * time.Second), want: 0},
		{name: "long_after", at: sent.Add(time.Hour), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ExpiresInSeconds(tt.at); got != tt.want {
				t.Fatalf("ExpiresInSeconds = %d, want %d", got, tt.want)
			}
		})
	}

	idle := OTPSession{State: OTPIdle, TTLSeconds: 600}
	if got := idle.ExpiresInSeconds(sent); got != 0 {
		t.Fatalf("idle session countdown = %d", got)
	}
	verified := s
	verified.State = OTPVerified
	if got := verified.ExpiresInSeconds(sent); got != 0 {
		t.Fatalf("verified session countdown = %d", got)
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := NormalizeExtensions([]string{" PDF", ".jpg", "png", "JPG", "", "."})
	want := []string{"pdf", "jpg", "png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeExtensions = %v, want %v", got, want)
	}
}

func TestDocumentTypeAllows(t *testing.T) {
	dt := DocumentType{AllowedExtensions: []string{"pdf", "jpg"}}
	for _, ext := range []string{"pdf", ".PDF", "Jpg"} {
		if !dt.Allows(ext) {
			t.Fatalf("Allows(%q) = false", ext)
		}
	}
	if dt.Allows("png") {
		t.Fatal("png should not be allowed")
	}
	if got := (DocumentType{MaxFileSizeMB: 5}).MaxBytes(); got != 5*1024*1024 {
		t.Fatalf("MaxBytes = %d", got)
	}
}

func TestRoleRules(t *testing.T) {
	if RoleCustomer.RequiresDocuments() {
		t.Fatal("customers do not upload documents")
	}
	if !RoleCook.RequiresDocuments() || !RoleDeliveryAgent.RequiresDocuments() {
		t.Fatal("cooks and agents upload documents")
	}
	if Role("admin").Valid() {
		t.Fatal("admin is not a self-service role")
	}
}

func TestNextPosition(t *testing.T) {
	r := Registration{Documents: []Document{{Position: 0}, {Position: 3}, {Position: 1}}}
	if got := r.NextPosition(); got != 4 {
		t.Fatalf("NextPosition = %d, want 4", got)
	}
}
