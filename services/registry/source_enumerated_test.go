package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	keys  []string
	calls int
	fail  bool
}

func (f *fakeLister) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("listing timed out")
	}
	return f.keys, nil
}

func generationKeys(handle string, n int) []string {
	keys := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		keys = append(keys, fmt.Sprintf("%s/generations/%d.png", handle, i))
	}
	return keys
}

func enumAgent(handle string) Agent {
	return Agent{ID: uuid.New(), Handle: handle, WorksBucket: "eden"}
}

func newTestEnumeratedSource(lister objectLister, clock *manualClock) *enumeratedSource {
	return newEnumeratedSource(lister, ".png", 5*time.Minute, 30*time.Minute, clock.Now)
}

func TestEnumeratedListReturnsNewestFirst(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 100)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	page, err := source.List(context.Background(), enumAgent("abraham"), listQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 10)
	assert.True(t, page.HasMore)

	for i, item := range page.Items {
		assert.Equal(t, int64(100-i), item.Ordinal)
		assert.Equal(t, VisibilityPublic, item.Visibility)
		assert.Equal(t, StatusActive, item.Status)
	}
	assert.Equal(t, "abraham/generations/91.png", page.Items[9].StoragePath)
}

func TestEnumeratedPaginationNeverRepeatsItems(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 100)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)
	agent := enumAgent("abraham")

	seen := map[int64]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := source.List(context.Background(), agent, listQuery{Limit: 10, Cursor: cursor})
		require.NoError(t, err)
		for _, item := range page.Items {
			require.Falsef(t, seen[item.Ordinal], "ordinal %d returned twice", item.Ordinal)
			seen[item.Ordinal] = true
		}
		pages++
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Len(t, seen, 100)
	// 100 items at limit 10 is an exact multiple, so the retained hasMore
	// heuristic reports one trailing empty page.
	assert.Equal(t, 11, pages)
}

func TestEnumeratedSecondPageFollowsCursor(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 100)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)
	agent := enumAgent("abraham")

	first, err := source.List(context.Background(), agent, listQuery{Limit: 10})
	require.NoError(t, err)
	require.True(t, first.HasMore)

	second, err := source.List(context.Background(), agent, listQuery{Limit: 10, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 10)
	assert.Equal(t, int64(90), second.Items[0].Ordinal)
	assert.Equal(t, int64(81), second.Items[9].Ordinal)
}

func TestEnumeratedShortFinalPageReportsNoMore(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("solienne", 7)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	page, err := source.List(context.Background(), enumAgent("solienne"), listQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 7)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestEnumeratedListingIsCachedWithinWindow(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 20)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)
	agent := enumAgent("abraham")

	_, err := source.List(context.Background(), agent, listQuery{Limit: 5})
	require.NoError(t, err)
	_, err = source.List(context.Background(), agent, listQuery{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	clock.Advance(5*time.Minute + time.Second)
	_, err = source.List(context.Background(), agent, listQuery{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestEnumeratedIgnoresForeignObjects(t *testing.T) {
	lister := &fakeLister{keys: []string{
		"abraham/generations/3.png",
		"abraham/generations/manifest.json",
		"abraham/generations/notes.txt",
		"abraham/generations/1.png",
		"abraham/generations/final.png",
		"abraham/generations/2.png",
	}}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	page, err := source.List(context.Background(), enumAgent("abraham"), listQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, int64(3), page.Items[0].Ordinal)
	assert.Equal(t, int64(1), page.Items[2].Ordinal)
}

func TestEnumeratedUnknownCursorFailsClosed(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 10)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	_, err := source.List(context.Background(), enumAgent("abraham"), listQuery{
		Limit:  5,
		Cursor: encodeEnumeratedCursor("abraham/generations/999.png"),
	})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestEnumeratedIndexedCursorRejected(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 10)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	_, err := source.List(context.Background(), enumAgent("abraham"), listQuery{
		Limit:  5,
		Cursor: encodeIndexedCursor(5, uuid.New()),
	})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestEnumeratedListerFailureIsUpstream(t *testing.T) {
	lister := &fakeLister{fail: true}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	_, err := source.List(context.Background(), enumAgent("abraham"), listQuery{Limit: 5})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestEnumeratedNonPublicFilterIsEmpty(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 10)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)

	page, err := source.List(context.Background(), enumAgent("abraham"), listQuery{
		Limit:      5,
		Visibility: VisibilityDraft,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestEnumeratedStableIDsAcrossRequests(t *testing.T) {
	lister := &fakeLister{keys: generationKeys("abraham", 3)}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)
	agent := enumAgent("abraham")

	first, err := source.List(context.Background(), agent, listQuery{Limit: 3})
	require.NoError(t, err)
	second, err := source.List(context.Background(), agent, listQuery{Limit: 3})
	require.NoError(t, err)

	for i := range first.Items {
		assert.Equal(t, first.Items[i].ID, second.Items[i].ID)
	}
}

func TestEnumeratedEqualOrdinalsKeepOneOrder(t *testing.T) {
	// Both keys parse to ordinal 1; the key tiebreak must give them one fixed
	// order so page-boundary scans never repeat or skip either of them.
	lister := &fakeLister{keys: []string{
		"abraham/generations/1.png",
		"abraham/generations/gen-001.png",
		"abraham/generations/2.png",
	}}
	clock := &manualClock{now: time.Now()}
	source := newTestEnumeratedSource(lister, clock)
	agent := enumAgent("abraham")

	var paths []string
	cursor := ""
	for {
		page, err := source.List(context.Background(), agent, listQuery{Limit: 1, Cursor: cursor})
		require.NoError(t, err)
		for _, item := range page.Items {
			paths = append(paths, item.StoragePath)
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []string{
		"abraham/generations/2.png",
		"abraham/generations/gen-001.png",
		"abraham/generations/1.png",
	}, paths)

	// A fresh enumeration after the cache window yields the same order.
	clock.Advance(6 * time.Minute)
	page, err := source.List(context.Background(), agent, listQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	for i, item := range page.Items {
		assert.Equal(t, paths[i], item.StoragePath)
	}
	assert.Equal(t, 2, lister.calls)
}

func TestOrdinalFromKey(t *testing.T) {
	tests := []struct {
		key     string
		ordinal int64
		ok      bool
	}{
		{key: "abraham/generations/42.png", ordinal: 42, ok: true},
		{key: "abraham/generations/gen-0107.png", ordinal: 107, ok: true},
		{key: "abraham/generations/final.png", ok: false},
		{key: "abraham/generations/0.png", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ordinal, ok := ordinalFromKey(tt.key, ".png")
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.ordinal, ordinal)
			}
		})
	}
}
