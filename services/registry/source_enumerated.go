package registry

import (
	"context"
	"fmt"
	"mime"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// objectLister is the slice of the blob-store client the enumerated source
// needs; tests substitute an in-memory fake.
type objectLister interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

type enumeratedKey struct {
	key     string
	ordinal int64
}

type listingEntry struct {
	keys    []enumeratedKey
	expires time.Time
}

// enumeratedSource serves agents whose works exist only as objects under a
// bucket prefix, with no relational index yet. Order is derived from the
// numeric suffix embedded in each object's filename. Because enumerating a
// prefix is expensive and the contents change rarely within a few minutes,
// the full sorted listing is cached per (bucket, prefix) for a short window.
type enumeratedSource struct {
	lister   objectLister
	ext      string
	cacheTTL time.Duration
	signTTL  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	listings map[string]listingEntry
}

func newEnumeratedSource(lister objectLister, ext string, cacheTTL, signTTL time.Duration, now func() time.Time) *enumeratedSource {
	return &enumeratedSource{
		lister:   lister,
		ext:      ext,
		cacheTTL: cacheTTL,
		signTTL:  signTTL,
		now:      now,
		listings: make(map[string]listingEntry),
	}
}

func (s *enumeratedSource) SignTTL() time.Duration { return s.signTTL }

// List pages over the cached enumeration. The cursor is the last key already
// returned. hasMore is true iff the page came back exactly limit long: a
// final page whose length is an exact multiple of limit therefore reports
// hasMore=true and costs the client one extra empty fetch. That heuristic is
// retained deliberately; see the registry design notes.
func (s *enumeratedSource) List(ctx context.Context, agent Agent, q listQuery) (listPage, error) {
	limit := clampLimit(q.Limit, enumeratedDefaultLimit, enumeratedMaxLimit)

	// No persisted visibility or status exists out here: everything an agent
	// has published to its prefix is PUBLIC and ACTIVE by construction.
	if q.Visibility != "" && q.Visibility != VisibilityPublic {
		return listPage{Items: []Work{}}, nil
	}

	prefix := agent.Handle + "/generations/"
	keys, err := s.enumerate(ctx, agent.WorksBucket, prefix)
	if err != nil {
		return listPage{}, err
	}

	start := 0
	if q.Cursor != "" {
		lastKey, err := decodeEnumeratedCursor(q.Cursor)
		if err != nil {
			return listPage{}, err
		}
		idx := -1
		for i, k := range keys {
			if k.key == lastKey {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Keys are append-only, so a key absent from a fresh listing was
			// never issued by this source. Fail closed.
			return listPage{}, fmt.Errorf("%w: unknown position", ErrInvalidCursor)
		}
		start = idx + 1
	}

	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}

	items := make([]Work, 0, end-start)
	for _, k := range keys[start:end] {
		items = append(items, s.workFromKey(agent, k))
	}

	page := listPage{Items: items, HasMore: len(items) == limit}
	if page.HasMore && len(items) > 0 {
		page.NextCursor = encodeEnumeratedCursor(items[len(items)-1].StoragePath)
	}

	return page, nil
}

// enumerate returns the sorted key list for a prefix, reusing a cached
// listing until its window lapses.
func (s *enumeratedSource) enumerate(ctx context.Context, bucket, prefix string) ([]enumeratedKey, error) {
	cacheKey := bucket + ":" + prefix
	now := s.now()

	s.mu.Lock()
	if entry, ok := s.listings[cacheKey]; ok && now.Before(entry.expires) {
		s.mu.Unlock()
		listingCacheHits.Inc()
		return entry.keys, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	raw, err := s.lister.ListKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate works: %v", ErrUpstream, err)
	}
	listingCacheMisses.Inc()

	keys := make([]enumeratedKey, 0, len(raw))
	for _, key := range raw {
		if !strings.HasSuffix(key, s.ext) {
			continue
		}
		ordinal, ok := ordinalFromKey(key, s.ext)
		if !ok {
			continue
		}
		keys = append(keys, enumeratedKey{key: key, ordinal: ordinal})
	}
	// Tiebreak on the key itself so two objects parsing to the same ordinal
	// keep one order across cache refreshes; an unstable order could repeat
	// or skip an item at a page boundary.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ordinal != keys[j].ordinal {
			return keys[i].ordinal > keys[j].ordinal
		}
		return keys[i].key > keys[j].key
	})

	s.mu.Lock()
	s.listings[cacheKey] = listingEntry{keys: keys, expires: now.Add(s.cacheTTL)}
	s.mu.Unlock()

	return keys, nil
}

func (s *enumeratedSource) workFromKey(agent Agent, k enumeratedKey) Work {
	base := path.Base(k.key)
	mimeType := mime.TypeByExtension(s.ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return Work{
		// Derived works have no row id; a name-based UUID over the storage
		// location keeps the id stable across requests.
		ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+agent.WorksBucket+"/"+k.key)),
		AgentID:       agent.ID,
		Ordinal:       k.ordinal,
		StorageBucket: agent.WorksBucket,
		StoragePath:   k.key,
		Title:         strings.TrimSuffix(base, s.ext),
		MimeType:      mimeType,
		Metadata:      map[string]any{},
		Visibility:    VisibilityPublic,
		Status:        StatusActive,
	}
}

// ordinalFromKey parses the trailing integer out of a key's filename, e.g.
// "abraham/generations/42.png" -> 42, "gen-0107.png" -> 107.
func ordinalFromKey(key, ext string) (int64, bool) {
	base := strings.TrimSuffix(path.Base(key), ext)

	end := len(base)
	start := end
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}

	ordinal, err := strconv.ParseInt(base[start:end], 10, 64)
	if err != nil || ordinal <= 0 {
		return 0, false
	}
	return ordinal, true
}
