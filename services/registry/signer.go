package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// presigner is the slice of the blob-store client the URL cache needs; tests
// substitute a fake with a manual clock.
type presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type signedEntry struct {
	url     string
	expires time.Time
}

// urlSigner caches presigned GET URLs per (bucket, path). An entry is
// considered stale at 90% of its real lifetime, so no caller can ever be
// handed a URL within 10% of expiry. Entries are replaced whole, never
// mutated.
//
// Concurrent cold-cache requests for the same object may each presign; the
// operation is idempotent and the last writer wins with an equivalent value,
// so no single-flight lock is taken.
type urlSigner struct {
	presigner presigner
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]signedEntry
}

// maxSignerEntries bounds the cache; expired entries are swept once the map
// grows past it.
const maxSignerEntries = 4096

func newURLSigner(p presigner, now func() time.Time) *urlSigner {
	return &urlSigner{
		presigner: p,
		now:       now,
		entries:   make(map[string]signedEntry),
	}
}

// SignedURL returns a usable presigned URL for the object, minting a new one
// only when no fresh cached entry exists.
func (s *urlSigner) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	key := bucket + ":" + path
	now := s.now()

	s.mu.Lock()
	if entry, ok := s.entries[key]; ok && now.Before(entry.expires) {
		s.mu.Unlock()
		signerCacheHits.Inc()
		return entry.url, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url, err := s.presigner.PresignGet(ctx, bucket, path, ttl)
	if err != nil {
		// Never cached: the next request for this object retries the mint.
		signerFailures.Inc()
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	signerCacheMisses.Inc()

	s.mu.Lock()
	if len(s.entries) >= maxSignerEntries {
		for k, e := range s.entries {
			if !now.Before(e.expires) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[key] = signedEntry{url: url, expires: now.Add(ttl * 9 / 10)}
	s.mu.Unlock()

	return url, nil
}
