package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/model"
)

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	reg := &model.Registration{ID: "r1", Step: model.StepPersonalInfo, Tokens: &model.Tokens{Access: "a"}}
	if err := s.Create(ctx, reg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Step = model.StepPasswordSetup
	got.Tokens.Access = "changed"

	again, _ := s.Get(ctx, "r1")
	if again.Step != model.StepPersonalInfo || again.Tokens.Access != "a" {
		t.Fatalf("store state leaked through a copy: %+v", again)
	}
}

func TestMemoryStoreDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, &model.Registration{ID: "r1"})

	_ = s.AddDocument(ctx, "r1", model.Document{ID: "d2", Position: 1})
	_ = s.AddDocument(ctx, "r1", model.Document{ID: "d1", Position: 0})

	doc := model.Document{ID: "d1", Position: 0, Status: model.DocumentSuccess}
	if err := s.SaveDocument(ctx, "r1", doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	reg, _ := s.Get(ctx, "r1")
	if len(reg.Documents) != 2 || reg.Documents[0].ID != "d1" || reg.Documents[0].Status != model.DocumentSuccess {
		t.Fatalf("documents = %+v", reg.Documents)
	}

	// Saving the registration does not touch documents.
	reg.Documents = nil
	reg.Step = model.StepPasswordSetup
	if err := s.Save(ctx, reg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reg, _ = s.Get(ctx, "r1")
	if len(reg.Documents) != 2 || reg.Step != model.StepPasswordSetup {
		t.Fatalf("after save: step=%s docs=%d", reg.Step, len(reg.Documents))
	}

	if err := s.DeleteDocument(ctx, "r1", "d2"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := s.SaveDocument(ctx, "r1", model.Document{ID: "d2"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("SaveDocument after delete: %v", err)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	if err := s.Save(context.Background(), &model.Registration{ID: "missing"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Save: %v", err)
	}
}

func TestMemoryBlobs(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobs()
	data := []byte("hello")
	_ = b.Put(ctx, "k", data, "text/plain")
	data[0] = 'j'

	got, err := b.Get(ctx, "k")
	if err != nil || string(got) != "hello" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	_ = b.Delete(ctx, "k")
	if _, err := b.Get(ctx, "k"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
}
