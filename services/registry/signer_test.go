package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	delay    time.Duration
	inFlight int
	maxSeen  int
}

func (f *fakePresigner) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fail := f.fail
	delay := f.delay
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if fail {
		return "", errors.New("signing backend down")
	}
	return fmt.Sprintf("https://storage.test/%s/%s?sig=%d", bucket, key, n), nil
}

func (f *fakePresigner) stats() (calls, maxSeen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.maxSeen
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestSignedURLReusesFreshEntry(t *testing.T) {
	presign := &fakePresigner{}
	clock := &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signer := newURLSigner(presign, clock.Now)

	first, err := signer.SignedURL(context.Background(), "eden", "abraham/generations/42.png", time.Hour)
	require.NoError(t, err)

	// A second request within one second returns the identical cached URL
	// without reaching the signing backend again.
	clock.Advance(time.Second)
	second, err := signer.SignedURL(context.Background(), "eden", "abraham/generations/42.png", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, presign.calls)
}

func TestSignedURLRefreshesAtNinetyPercentOfTTL(t *testing.T) {
	presign := &fakePresigner{}
	clock := &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	signer := newURLSigner(presign, clock.Now)

	first, err := signer.SignedURL(context.Background(), "eden", "a/1.png", time.Hour)
	require.NoError(t, err)

	// One nanosecond shy of the 90% mark the entry is still served.
	clock.Advance(54*time.Minute - time.Nanosecond)
	cached, err := signer.SignedURL(context.Background(), "eden", "a/1.png", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, 1, presign.calls)

	// At exactly 90% of the real lifetime the entry is stale: a fresh URL is
	// minted so no caller ever holds a link within 10% of expiry.
	clock.Advance(time.Nanosecond)
	refreshed, err := signer.SignedURL(context.Background(), "eden", "a/1.png", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)
	assert.Equal(t, 2, presign.calls)
}

func TestSignedURLKeysByBucketAndPath(t *testing.T) {
	presign := &fakePresigner{}
	clock := &manualClock{now: time.Now()}
	signer := newURLSigner(presign, clock.Now)

	a, err := signer.SignedURL(context.Background(), "eden", "x.png", time.Hour)
	require.NoError(t, err)
	b, err := signer.SignedURL(context.Background(), "eden2", "x.png", time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, presign.calls)
}

func TestSignedURLFailureIsNotCached(t *testing.T) {
	presign := &fakePresigner{fail: true}
	clock := &manualClock{now: time.Now()}
	signer := newURLSigner(presign, clock.Now)

	_, err := signer.SignedURL(context.Background(), "eden", "broken.png", time.Hour)
	require.Error(t, err)

	// The failure must not poison the cache: once the backend recovers the
	// next request mints successfully.
	presign.fail = false
	url, err := signer.SignedURL(context.Background(), "eden", "broken.png", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, 2, presign.calls)
}
