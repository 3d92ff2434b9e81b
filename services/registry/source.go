package registry

import (
	"context"
	"time"
)

const (
	indexedDefaultLimit    = 50
	indexedMaxLimit        = 100
	enumeratedDefaultLimit = 60
	enumeratedMaxLimit     = 200
)

// listQuery carries the caller's filter and position into a listing source.
// An empty Visibility means the PUBLIC default.
type listQuery struct {
	Visibility string
	Cursor     string
	Limit      int
}

// listPage is one slice of an agent's collection, newest first.
type listPage struct {
	Items      []Work
	NextCursor string
	HasMore    bool
}

// listingSource produces an ordered, filtered page of works for an agent,
// independent of whether the data lives in the relational index or only in
// the blob store. Cursors are source-specific and not portable across
// variants.
type listingSource interface {
	// List returns at most q.Limit items ordered by ordinal descending.
	// A cursor from a previous page resumes the scan; a malformed or
	// foreign cursor yields ErrInvalidCursor.
	List(ctx context.Context, agent Agent, q listQuery) (listPage, error)

	// SignTTL is the presign lifetime for objects delivered by this source.
	SignTTL() time.Duration
}

// sourceFor selects the listing variant from agent metadata: agents whose
// works have been ingested into the relational index use keyset pagination,
// the rest fall back to enumerating their bucket prefix.
func (a *API) sourceFor(agent Agent) listingSource {
	if agent.WorksIndexed {
		return &indexedSource{q: a.store.DB, signTTL: a.config.IndexedSignTTL}
	}
	return a.enum
}

// clampLimit keeps the requested page size inside [1, max] without erroring,
// so integrators sending out-of-range values still get a usable page.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
