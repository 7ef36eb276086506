package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sealed_chat/internal/service/certificate"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type (
	KeyValue interface {
		SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
		Get(ctx context.Context, key string) (string, error)
		Exists(ctx context.Context, key string) (bool, error)
		ZAddNX(ctx context.Context, key string, score float64, member string) error
		ZRangeFrom(ctx context.Context, key string, minScore float64) ([]redis.Z, error)
	}

	// RevocationRepo keeps revocations in redis so every server instance
	// sharing the database sees them. Entries never expire.
	RevocationRepo struct {
		kv KeyValue
	}
)

func NewRevocationRepo(kv KeyValue) *RevocationRepo {
	return &RevocationRepo{kv: kv}
}

// revokedIndex orders revoked ids by revocation time in milliseconds.
const revokedIndex = "revoked_certificates"

func revokedKey(id uuid.UUID) string {
	return fmt.Sprintf("revoked: %s", id)
}

// Revoke records the first revocation time; later calls only repair a
// missing index entry.
func (r *RevocationRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	created, err := r.kv.SetNX(ctx, revokedKey(id), at.UTC().Format(time.RFC3339Nano), 0)
	if err != nil {
		return err
	}
	if !created {
		first, ok, err := r.RevokedAt(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			at = first
		}
	}
	return r.kv.ZAddNX(ctx, revokedIndex, float64(at.UnixMilli()), id.String())
}

// RevokedSince reads the index at millisecond resolution.
func (r *RevocationRepo) RevokedSince(ctx context.Context, since time.Time) ([]certificate.Revocation, error) {
	from := float64(since.UnixMilli())
	if since.IsZero() {
		from = 0
	}
	zs, err := r.kv.ZRangeFrom(ctx, revokedIndex, from)
	if err != nil {
		return nil, err
	}

	out := make([]certificate.Revocation, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			return nil, fmt.Errorf("revocation index member %q: %w", member, err)
		}
		out = append(out, certificate.Revocation{
			CertificateID: id,
			RevokedAt:     time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return out, nil
}

func (r *RevocationRepo) IsRevoked(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.kv.Exists(ctx, revokedKey(id))
}

func (r *RevocationRepo) RevokedAt(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	v, err := r.kv.Get(ctx, revokedKey(id))
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
