package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/carelink/realtime/internal/domain"
)

// MemoryRevocations is the single-node revocation list. Revoke is called by
// whatever embeds the gateway (logout handling lives outside this module).
type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]struct{})}
}

func (m *MemoryRevocations) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[token] = struct{}{}
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[token]
	return ok, nil
}

// MemoryMessageStore keeps messages for the lifetime of the process. The
// production deployment swaps in the application's persistence service
// behind the same interface.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages map[domain.MessageID]*domain.Message
	seq      int
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[domain.MessageID]*domain.Message)}
}

func (s *MemoryMessageStore) Create(_ context.Context, m *domain.Message) (domain.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	stored := *m
	stored.ID = domain.MessageID(fmt.Sprintf("m%d", s.seq))
	s.messages[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryMessageStore) Get(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *m
	return &out, nil
}

// StaticProfiles serves a fixed directory, useful when the profile service
// is not wired in.
type StaticProfiles struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]domain.SenderProfile
}

func NewStaticProfiles() *StaticProfiles {
	return &StaticProfiles{profiles: make(map[domain.UserID]domain.SenderProfile)}
}

func (p *StaticProfiles) Put(profile domain.SenderProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.ID] = profile
}

func (p *StaticProfiles) Lookup(_ context.Context, id domain.UserID, _ domain.Role) (domain.SenderProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.profiles[id]
	if !ok {
		return domain.SenderProfile{}, domain.ErrNotFound
	}
	return profile, nil
}

// NopCallLog satisfies core.CallLog when call history is not persisted.
type NopCallLog struct{}

func (NopCallLog) Joined(context.Context, string, domain.UserID) error { return nil }
func (NopCallLog) Left(context.Context, string, domain.UserID) error   { return nil }
