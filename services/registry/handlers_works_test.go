package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAPI(presign presigner) *API {
	clock := &manualClock{now: time.Now()}
	return &API{
		store: &Store{},
		config: Config{
			WorksBucket:       "eden",
			IndexedSignTTL:    time.Hour,
			EnumeratedSignTTL: 30 * time.Minute,
		},
		auth:   newServiceAuth([]byte("test-secret")),
		signer: newURLSigner(presign, clock.Now),
	}
}

func TestResolveItemsAttachesSignedURLs(t *testing.T) {
	api := testAPI(&fakePresigner{})

	works := []Work{
		{ID: uuid.New(), Ordinal: 2, StorageBucket: "eden", StoragePath: "abraham/generations/2.png", Metadata: map[string]any{}},
		{ID: uuid.New(), Ordinal: 1, StorageBucket: "eden", StoragePath: "abraham/generations/1.png", Metadata: map[string]any{}},
	}

	items := api.resolveItems(context.Background(), works, time.Hour)
	require.Len(t, items, 2)

	for i, item := range items {
		assert.Equal(t, works[i].ID, item.ID)
		assert.Equal(t, works[i].Ordinal, item.Ordinal)
		require.NotNil(t, item.SignedURL)
		assert.Contains(t, *item.SignedURL, works[i].StoragePath)
		assert.Empty(t, item.SigningError)
	}
}

func TestResolveItemsDegradesFailedItemsOnly(t *testing.T) {
	// All presigns fail here; the contract under test is that failures stay
	// per-item: null signed_url plus an error note, no propagated error.
	api := testAPI(&fakePresigner{fail: true})

	works := []Work{{ID: uuid.New(), Ordinal: 1, StorageBucket: "eden", StoragePath: "a/1.png"}}
	items := api.resolveItems(context.Background(), works, time.Hour)

	require.Len(t, items, 1)
	assert.Nil(t, items[0].SignedURL)
	assert.Equal(t, "signing unavailable", items[0].SigningError)
	assert.NotContains(t, items[0].SigningError, "eden")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"works":[],"bogus":1}`))
	var dest struct {
		Works []ingestWorkInput `json:"works"`
	}
	assert.Error(t, decodeJSON(r, &dest))
}

func TestDecodeJSONInflatesGzipBodies(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"works":[{"ordinal":7,"storagePath":"abraham/generations/7.png"}]}`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	r := httptest.NewRequest(http.MethodPost, "/", &buf)
	r.Header.Set("Content-Encoding", "gzip")

	var dest struct {
		Works []ingestWorkInput `json:"works"`
	}
	require.NoError(t, decodeJSON(r, &dest))
	require.Len(t, dest.Works, 1)
	assert.Equal(t, int64(7), dest.Works[0].Ordinal)
	assert.Equal(t, "abraham/generations/7.png", dest.Works[0].StoragePath)
}

func TestWorkChecksumIsDeterministic(t *testing.T) {
	agentID := uuid.MustParse("7a8c9b1e-0f2d-4f6a-9c3b-5d7e8f9a0b1c")

	assert.Equal(t, workChecksum(agentID, 42), workChecksum(agentID, 42))
	assert.NotEqual(t, workChecksum(agentID, 42), workChecksum(agentID, 43))
	assert.NotEqual(t, workChecksum(agentID, 42), workChecksum(uuid.New(), 42))
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "zero takes default", limit: 0, want: 50},
		{name: "negative takes default", limit: -3, want: 50},
		{name: "in range passes through", limit: 25, want: 25},
		{name: "above max clamps", limit: 500, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampLimit(tt.limit, indexedDefaultLimit, indexedMaxLimit))
		})
	}
}

func TestResolveItemsBoundsConcurrency(t *testing.T) {
	presign := &fakePresigner{delay: 2 * time.Millisecond}
	api := testAPI(presign)

	works := make([]Work, 64)
	for i := range works {
		works[i] = Work{
			ID:            uuid.New(),
			Ordinal:       int64(64 - i),
			StorageBucket: "eden",
			StoragePath:   fmt.Sprintf("abraham/generations/%d.png", 64-i),
			Metadata:      map[string]any{},
		}
	}

	items := api.resolveItems(context.Background(), works, time.Hour)
	require.Len(t, items, 64)

	calls, maxSeen := presign.stats()
	assert.Equal(t, 64, calls)
	assert.LessOrEqual(t, maxSeen, presignConcurrency)
}

func TestRespondWorksErrorMapping(t *testing.T) {
	api := testAPI(&fakePresigner{})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "not found", err: fmt.Errorf("%w: agent \"ghost\"", ErrNotFound), wantStatus: http.StatusNotFound, wantBody: "not found"},
		{name: "invalid cursor", err: fmt.Errorf("%w: malformed position", ErrInvalidCursor), wantStatus: http.StatusBadRequest, wantBody: "invalid cursor"},
		{name: "upstream", err: fmt.Errorf("%w: list works: timeout", ErrUpstream), wantStatus: http.StatusServiceUnavailable, wantBody: "upstream storage unavailable"},
		{name: "deadline", err: context.DeadlineExceeded, wantStatus: http.StatusServiceUnavailable, wantBody: "upstream storage unavailable"},
		{name: "unknown", err: fmt.Errorf("bucket eden exploded"), wantStatus: http.StatusInternalServerError, wantBody: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/v1/agents/abraham/works", nil)

			api.respondWorksError(rec, r, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			// Storage internals stay server-side.
			assert.NotContains(t, rec.Body.String(), "eden")
		})
	}
}

func TestSourceForSelectsVariantFromAgentMetadata(t *testing.T) {
	api := testAPI(&fakePresigner{})
	api.enum = newEnumeratedSource(&fakeLister{}, ".png", 5*time.Minute, 30*time.Minute, time.Now)

	indexed := api.sourceFor(Agent{WorksIndexed: true})
	_, ok := indexed.(*indexedSource)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, indexed.SignTTL())

	enumerated := api.sourceFor(Agent{WorksIndexed: false})
	_, ok = enumerated.(*enumeratedSource)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Minute, enumerated.SignTTL())
}
