package store

import (
	"context"
	"errors"
	"testing"

	"github.com/carelink/realtime/internal/domain"
)

func TestMemoryMessageStoreRoundTrip(t *testing.T) {
	s := NewMemoryMessageStore()
	ctx := context.Background()

	id, err := s.Create(ctx, &domain.Message{ChatID: "u1-u2", SenderID: "u1", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	m, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != id || m.Content != "hi" {
		t.Errorf("unexpected message %+v", m)
	}

	// Mutating the returned copy must not touch the stored message.
	m.Content = "changed"
	fresh, _ := s.Get(ctx, id)
	if fresh.Content != "hi" {
		t.Error("Get must return a copy")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryRevocations(t *testing.T) {
	r := NewMemoryRevocations()
	ctx := context.Background()

	if revoked, _ := r.IsRevoked(ctx, "tok"); revoked {
		t.Error("unknown token should not be revoked")
	}
	r.Revoke("tok")
	if revoked, _ := r.IsRevoked(ctx, "tok"); !revoked {
		t.Error("revoked token should report revoked")
	}
}

func TestStaticProfiles(t *testing.T) {
	p := NewStaticProfiles()
	ctx := context.Background()

	if _, err := p.Lookup(ctx, "u1", domain.RoleUser); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	p.Put(domain.SenderProfile{ID: "u1", Name: "Ada"})
	profile, err := p.Lookup(ctx, "u1", domain.RoleUser)
	if err != nil || profile.Name != "Ada" {
		t.Errorf("got (%+v, %v)", profile, err)
	}
}
