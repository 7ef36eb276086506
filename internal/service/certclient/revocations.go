package certclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRevocationRefresh  = time.Minute
	DefaultRevocationMaxStale = 15 * time.Minute

	// revocationOverlap is subtracted from the server's as_of on each pull
	// so a revocation committed while the previous list was being read is
	// not skipped.
	revocationOverlap = time.Minute
)

type (
	RevocationSource interface {
		RevokedSince(ctx context.Context, since time.Time) (*model.RevokedCertificatesResponse, error)
	}

	RevocationOption func(*RevocationList)

	// RevocationList mirrors the server's revocation list and answers
	// IsRevoked locally. It always pulls the whole list (or the tail since
	// the last pull), never a single id, so the server cannot tell which
	// sender a recipient just heard from.
	//
	// A failed refresh keeps the previous list for up to maxStale after the
	// last successful pull; after that, and before the first pull succeeds,
	// IsRevoked returns the error and the verifier treats it as revoked.
	RevocationList struct {
		source   RevocationSource
		refresh  time.Duration
		maxStale time.Duration
		now      func() time.Time

		mu          sync.Mutex
		revoked     map[uuid.UUID]time.Time
		asOf        time.Time
		lastAttempt time.Time
		lastSuccess time.Time
	}
)

func WithRevocationRefresh(d time.Duration) RevocationOption {
	return func(l *RevocationList) {
		if d > 0 {
			l.refresh = d
		}
	}
}

func WithRevocationMaxStale(d time.Duration) RevocationOption {
	return func(l *RevocationList) {
		if d > 0 {
			l.maxStale = d
		}
	}
}

func WithRevocationClock(now func() time.Time) RevocationOption {
	return func(l *RevocationList) { l.now = now }
}

func NewRevocationList(source RevocationSource, opts ...RevocationOption) *RevocationList {
	l := &RevocationList{
		source:   source,
		refresh:  DefaultRevocationRefresh,
		maxStale: DefaultRevocationMaxStale,
		now:      time.Now,
		revoked:  make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Revoke records a revocation locally, ahead of the next pull.
func (l *RevocationList) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.revoked[id]; !ok {
		l.revoked[id] = at.UTC()
	}
	return nil
}

func (l *RevocationList) IsRevoked(ctx context.Context, id uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.syncLocked(ctx); err != nil {
		return false, err
	}
	_, ok := l.revoked[id]
	return ok, nil
}

func (l *RevocationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.revoked)
}

func (l *RevocationList) syncLocked(ctx context.Context) error {
	now := l.now()
	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < l.refresh {
		return l.staleErrLocked(now, nil)
	}
	l.lastAttempt = now

	var since time.Time
	if !l.asOf.IsZero() {
		since = l.asOf.Add(-revocationOverlap)
	}
	resp, err := l.source.RevokedSince(ctx, since)
	if err == nil {
		err = l.mergeLocked(resp)
	}
	if err != nil {
		log.Warn("revocation list refresh failed", zap.Time("last_success", l.lastSuccess), zap.Error(err))
		return l.staleErrLocked(now, err)
	}

	l.asOf = resp.AsOf
	l.lastSuccess = now
	return nil
}

func (l *RevocationList) mergeLocked(resp *model.RevokedCertificatesResponse) error {
	parsed := make(map[uuid.UUID]time.Time, len(resp.Revoked))
	for _, r := range resp.Revoked {
		id, err := uuid.Parse(r.CertificateID)
		if err != nil {
			return fmt.Errorf("revoked certificate id %q: %w", r.CertificateID, err)
		}
		parsed[id] = r.RevokedAt
	}
	for id, at := range parsed {
		if _, ok := l.revoked[id]; !ok {
			l.revoked[id] = at.UTC()
		}
	}
	return nil
}

// staleErrLocked returns nil while the last good list is fresh enough.
func (l *RevocationList) staleErrLocked(now time.Time, cause error) error {
	if !l.lastSuccess.IsZero() && now.Sub(l.lastSuccess) <= l.maxStale {
		return nil
	}
	if cause == nil {
		cause = fmt.Errorf("no revocation list since %s", l.lastAttempt.Format(time.RFC3339))
	}
	return fmt.Errorf("revocation list unavailable: %w", cause)
}

// RevokedSince pulls revocations at or after since; a zero since pulls all.
func (c *Client) RevokedSince(ctx context.Context, since time.Time) (*model.RevokedCertificatesResponse, error) {
	u := url.URL{
		Scheme: c.scheme,
		Host:   c.host,
		Path:   "/certificates/revoked",
	}
	if !since.IsZero() {
		u.RawQuery = url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	var out model.RevokedCertificatesResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list revoked certificates: %w", err)
	}
	return &out, nil
}
