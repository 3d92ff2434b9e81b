package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/brightseth/genesis-registry/pkg/db"
)

// indexedSource pages over the relational works index using keyset
// pagination. Rows are ordered ordinal DESC with id DESC as tiebreaker, so
// the scan position is a strict total order even if two rows ever shared an
// ordinal. Inserting newer works never shifts or duplicates rows behind the
// cursor of a descending scan.
type indexedSource struct {
	q       pgxscan.Querier
	signTTL time.Duration
}

const workColumns = `
        id, agent_id, ordinal, storage_bucket, storage_path, title, mime_type,
        width, height, metadata, visibility, status, published_at, created_at, last_verified_at`

const listWorksQuery = `
        SELECT` + workColumns + `
        FROM works
        WHERE agent_id = $1 AND status = 'ACTIVE' AND visibility = $2
        ORDER BY ordinal DESC, id DESC
        LIMIT $3
    `

const listWorksAfterQuery = `
        SELECT` + workColumns + `
        FROM works
        WHERE agent_id = $1 AND status = 'ACTIVE' AND visibility = $2
          AND (ordinal < $3 OR (ordinal = $3 AND id < $4))
        ORDER BY ordinal DESC, id DESC
        LIMIT $5
    `

func (s *indexedSource) SignTTL() time.Duration { return s.signTTL }

func (s *indexedSource) List(ctx context.Context, agent Agent, q listQuery) (listPage, error) {
	limit := clampLimit(q.Limit, indexedDefaultLimit, indexedMaxLimit)

	visibility := q.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}

	// Fetch one extra row: its presence alone signals another page. The
	// cursor is taken from the last row actually returned so the follow-up
	// predicate resumes exactly where this page ended.
	args := []any{agent.ID, visibility, limit + 1}
	query := listWorksQuery
	if q.Cursor != "" {
		ordinal, id, err := decodeIndexedCursor(q.Cursor)
		if err != nil {
			return listPage{}, err
		}
		query = listWorksAfterQuery
		args = []any{agent.ID, visibility, ordinal, id, limit + 1}
	}

	var items []Work
	if err := db.Select(ctx, s.q, &items, query, args...); err != nil {
		return listPage{}, fmt.Errorf("%w: list works: %v", ErrUpstream, err)
	}
	for i := range items {
		if items[i].Metadata == nil {
			items[i].Metadata = map[string]any{}
		}
	}

	page := listPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = encodeIndexedCursor(last.Ordinal, last.ID)
	}

	return page, nil
}
