package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/brightseth/genesis-registry/pkg/db"
)

// backfillStore is the slice of the pool the backfill path needs; tests
// substitute an in-memory fake.
type backfillStore interface {
	pgxscan.Querier
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// BackfillInput is one enumerated object bound for the works index.
type BackfillInput struct {
	Ordinal     int64
	StoragePath string
	Title       string
	MimeType    string
}

// BackfillResult reports what a backfill wrote.
type BackfillResult struct {
	Created int
	Updated int
}

// BackfillWorks upserts enumerated works directly into the relational index,
// bypassing the HTTP API. This is the administrative reconciliation path from
// enumeration-only delivery to the indexed world; with markIndexed the agent
// is switched to indexed delivery once every row is written.
func BackfillWorks(ctx context.Context, store backfillStore, handle, bucket string, inputs []BackfillInput, markIndexed bool) (BackfillResult, error) {
	if store == nil {
		return BackfillResult{}, errors.New("store is required")
	}
	if handle == "" {
		return BackfillResult{}, errors.New("agent handle is required")
	}
	if len(inputs) == 0 {
		return BackfillResult{}, errors.New("no works to backfill")
	}

	rows := make([]workUpsert, 0, len(inputs))
	for _, in := range inputs {
		if in.Ordinal <= 0 || in.StoragePath == "" {
			return BackfillResult{}, fmt.Errorf("invalid work ordinal=%d path=%q", in.Ordinal, in.StoragePath)
		}
		rows = append(rows, workUpsert{
			Ordinal:     in.Ordinal,
			StoragePath: in.StoragePath,
			Title:       in.Title,
			MimeType:    in.MimeType,
		})
	}

	var agent Agent
	if err := db.Get(ctx, store, &agent, agentByHandleQuery, handle); err != nil {
		if pgxscan.NotFound(err) {
			return BackfillResult{}, fmt.Errorf("%w: agent %q", ErrNotFound, handle)
		}
		return BackfillResult{}, fmt.Errorf("%w: fetch agent: %v", ErrUpstream, err)
	}

	// The rows must point at the bucket the objects were enumerated from.
	if bucket != "" {
		agent.WorksBucket = bucket
	}
	if agent.WorksBucket == "" {
		return BackfillResult{}, errors.New("no bucket configured for agent")
	}

	created, updated, err := upsertWorkRows(ctx, store, agent, rows, "")
	result := BackfillResult{Created: created, Updated: updated}
	if err != nil {
		return result, err
	}

	if markIndexed && !agent.WorksIndexed {
		if _, err := store.Exec(ctx,
			`UPDATE agents SET works_indexed = TRUE, updated_at = now() WHERE id = $1`,
			agent.ID,
		); err != nil {
			return result, fmt.Errorf("%w: mark agent indexed: %v", ErrUpstream, err)
		}
	}

	return result, nil
}
