package certificate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type (
	// RevocationStore records revoked certificate ids. Revocation is
	// permanent; implementations must make a Revoke visible to every later
	// IsRevoked call, including calls from other processes when shared.
	RevocationStore interface {
		Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
		IsRevoked(ctx context.Context, id uuid.UUID) (bool, error)
	}

	// RevocationLister is implemented by stores that can enumerate
	// revocations. RevokedSince returns every revocation at or after since,
	// oldest first.
	RevocationLister interface {
		RevokedSince(ctx context.Context, since time.Time) ([]Revocation, error)
	}

	Revocation struct {
		CertificateID uuid.UUID
		RevokedAt     time.Time
	}

	// MemoryRevocationStore is a single-instance RevocationStore. Revocations
	// are lost on restart.
	MemoryRevocationStore struct {
		mu      sync.RWMutex
		revoked map[uuid.UUID]time.Time
	}
)

var ErrRevocationListUnsupported = errors.New("revocation store cannot list revocations")

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		revoked: make(map[uuid.UUID]time.Time),
	}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.revoked[id]; !ok {
		s.revoked[id] = at.UTC()
	}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.revoked[id]
	return ok, nil
}

func (s *MemoryRevocationStore) RevokedAt(id uuid.UUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.revoked[id]
	return at, ok
}

func (s *MemoryRevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}

func (s *MemoryRevocationStore) RevokedSince(_ context.Context, since time.Time) ([]Revocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Revocation, 0, len(s.revoked))
	for id, at := range s.revoked {
		if !at.Before(since) {
			out = append(out, Revocation{CertificateID: id, RevokedAt: at})
		}
	}
	sortRevocations(out)
	return out, nil
}

func sortRevocations(rs []Revocation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].RevokedAt.Equal(rs[j].RevokedAt) {
			return rs[i].CertificateID.String() < rs[j].CertificateID.String()
		}
		return rs[i].RevokedAt.Before(rs[j].RevokedAt)
	})
}
