package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/brightseth/genesis-registry/pkg/db"
)

// presignConcurrency bounds the signed-URL fan-out per page.
const presignConcurrency = 16

// handleListWorks is the pagination orchestrator: resolve the agent, decode
// the cursor, delegate to the configured listing source, then resolve signed
// URLs for the page. Per-item signing failures degrade that item only; the
// page still returns 200.
func (a *API) handleListWorks(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(chi.URLParam(r, "handle"))

	agent, err := a.fetchAgentByHandle(r.Context(), handle)
	if err != nil {
		a.respondWorksError(w, r, err)
		return
	}
	if agent.WorksBucket == "" {
		agent.WorksBucket = a.config.WorksBucket
	}

	privileged := a.auth.verify(r)

	visibility := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("visibility")))
	if visibility != "" {
		if !validVisibility(visibility) {
			respondError(w, http.StatusBadRequest, errors.New("unknown visibility filter"))
			return
		}
		if visibility != VisibilityPublic && !privileged {
			respondError(w, http.StatusForbidden, errors.New("visibility filter requires a service credential"))
			return
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	source := a.sourceFor(agent)
	page, err := source.List(r.Context(), agent, listQuery{
		Visibility: visibility,
		Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		Limit:      limit,
	})
	if err != nil {
		a.respondWorksError(w, r, err)
		return
	}

	envelope := worksEnvelope{
		Items:   a.resolveItems(r.Context(), page.Items, source.SignTTL()),
		HasMore: page.HasMore,
		Agent:   agent.ref(),
	}
	if page.NextCursor != "" {
		envelope.NextCursor = &page.NextCursor
	}

	respondJSON(w, http.StatusOK, envelope)
}

// resolveItems fans signed-URL resolution out across the page with bounded
// concurrency; every item is independent and the response waits for all of
// them.
func (a *API) resolveItems(ctx context.Context, works []Work, ttl time.Duration) []workItem {
	items := make([]workItem, len(works))

	g := new(errgroup.Group)
	g.SetLimit(presignConcurrency)
	for i, work := range works {
		g.Go(func() error {
			item := workItem{
				ID:          work.ID,
				Ordinal:     work.Ordinal,
				Title:       work.Title,
				MimeType:    work.MimeType,
				Width:       work.Width,
				Height:      work.Height,
				Metadata:    work.Metadata,
				PublishedAt: work.PublishedAt,
			}

			url, err := a.signer.SignedURL(ctx, work.StorageBucket, work.StoragePath, ttl)
			if err != nil {
				log.Printf("ERROR sign work agent=%s path=%s: %v", work.AgentID, work.StoragePath, err)
				item.SigningError = "signing unavailable"
			} else {
				item.SignedURL = &url
			}

			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	return items
}

func (a *API) handleGetWork(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(chi.URLParam(r, "handle"))
	workID, err := uuid.Parse(chi.URLParam(r, "workID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid work id is required"))
		return
	}

	agent, err := a.fetchAgentByHandle(r.Context(), handle)
	if err != nil {
		a.respondWorksError(w, r, err)
		return
	}

	query := `
        SELECT` + workColumns + `
        FROM works
        WHERE id = $1 AND agent_id = $2
    `

	var work Work
	if err := db.Get(r.Context(), a.store.DB, &work, query, workID, agent.ID); err != nil {
		if pgxscan.NotFound(err) {
			respondError(w, http.StatusNotFound, fmt.Errorf("work %s not found", workID))
			return
		}
		a.respondWorksError(w, r, fmt.Errorf("%w: fetch work: %v", ErrUpstream, err))
		return
	}
	if work.Metadata == nil {
		work.Metadata = map[string]any{}
	}

	// Non-public or archived works are invisible without a service credential.
	if (work.Visibility != VisibilityPublic || work.Status != StatusActive) && !a.auth.verify(r) {
		respondError(w, http.StatusNotFound, fmt.Errorf("work %s not found", workID))
		return
	}

	items := a.resolveItems(r.Context(), []Work{work}, a.config.IndexedSignTTL)

	respondJSON(w, http.StatusOK, map[string]any{
		"work": items[0],
	})
}

type ingestWorkInput struct {
	Ordinal     int64          `json:"ordinal"`
	StoragePath string         `json:"storagePath"`
	Title       string         `json:"title,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// handleIngestWorks accepts batched, retried writes. Duplicates resolve two
// ways: a repeated request-level Idempotency-Key makes the whole request a
// no-op, and a repeated (agent, ordinal) within a fresh request upserts the
// existing row instead of inserting a second one.
func (a *API) handleIngestWorks(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(chi.URLParam(r, "handle"))

	agent, err := a.fetchAgentByHandle(r.Context(), handle)
	if err != nil {
		a.respondWorksError(w, r, err)
		return
	}
	if agent.WorksBucket == "" {
		agent.WorksBucket = a.config.WorksBucket
	}

	var req struct {
		Works []ingestWorkInput `json:"works"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Works) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("works batch is empty"))
		return
	}
	for _, in := range req.Works {
		if in.Ordinal <= 0 {
			respondError(w, http.StatusBadRequest, errors.New("ordinal must be positive"))
			return
		}
		if strings.TrimSpace(in.StoragePath) == "" {
			respondError(w, http.StatusBadRequest, errors.New("storagePath is required"))
			return
		}
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if idempotencyKey != "" {
		var seen bool
		err := a.store.DB.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM works WHERE idempotency_key = $1)`,
			idempotencyKey,
		).Scan(&seen)
		if err != nil {
			a.respondWorksError(w, r, fmt.Errorf("%w: idempotency check: %v", ErrUpstream, err))
			return
		}
		if seen {
			respondJSON(w, http.StatusOK, map[string]any{
				"created": 0,
				"message": "idempotent replay; no new works written",
			})
			return
		}
	}

	rows := make([]workUpsert, 0, len(req.Works))
	for _, in := range req.Works {
		rows = append(rows, workUpsert{
			Ordinal:     in.Ordinal,
			StoragePath: in.StoragePath,
			Title:       in.Title,
			MimeType:    in.MimeType,
			Width:       in.Width,
			Height:      in.Height,
			Metadata:    in.Metadata,
		})
	}

	created, _, err := upsertWorkRows(ctx, a.store.DB, agent, rows, idempotencyKey)
	if err != nil {
		a.respondWorksError(w, r, err)
		return
	}

	a.publishJSON(r.Context(), worksIngestedTopic, map[string]any{
		"agent_id": agent.ID,
		"handle":   agent.Handle,
		"batch":    len(req.Works),
		"created":  created,
	})

	status := http.StatusCreated
	if created == 0 {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{"created": created})
}

const upsertWorkQuery = `
        INSERT INTO works (
            id, agent_id, ordinal, storage_bucket, storage_path, title, mime_type,
            width, height, metadata, visibility, status, checksum, idempotency_key,
            published_at, created_at, last_verified_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, 'PUBLIC', 'ACTIVE', $11, $12, $13, $13, $13)
        ON CONFLICT (agent_id, ordinal) DO UPDATE SET
            storage_bucket = EXCLUDED.storage_bucket,
            storage_path = EXCLUDED.storage_path,
            title = EXCLUDED.title,
            mime_type = EXCLUDED.mime_type,
            width = EXCLUDED.width,
            height = EXCLUDED.height,
            metadata = EXCLUDED.metadata,
            status = 'ACTIVE',
            last_verified_at = EXCLUDED.last_verified_at
        RETURNING (xmax = 0) AS inserted;
    `

// rowQuerier is the single-row slice of the pool shared by the ingestion and
// backfill write paths.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// workUpsert is one row bound for the works index, already validated.
type workUpsert struct {
	Ordinal     int64
	StoragePath string
	Title       string
	MimeType    string
	Width       int
	Height      int
	Metadata    map[string]any
}

// upsertWorkRows writes the batch one row at a time, relying on the store's
// unique (agent_id, ordinal) constraint to resolve racing retries
// atomically. Rows that conflict refresh their mutable fields; id, ordinal,
// agent_id, and created_at never change.
func upsertWorkRows(ctx context.Context, q rowQuerier, agent Agent, rows []workUpsert, idempotencyKey string) (created, updated int, err error) {
	now := time.Now().UTC()

	for _, in := range rows {
		metaBytes, merr := json.Marshal(in.Metadata)
		if merr != nil || in.Metadata == nil {
			metaBytes = []byte("{}")
		}

		var key any
		if idempotencyKey != "" {
			key = idempotencyKey
		}

		var inserted bool
		if err := q.QueryRow(ctx, upsertWorkQuery,
			uuid.New(), agent.ID, in.Ordinal, agent.WorksBucket, strings.TrimSpace(in.StoragePath),
			in.Title, in.MimeType, in.Width, in.Height, string(metaBytes),
			workChecksum(agent.ID, in.Ordinal), key, now,
		).Scan(&inserted); err != nil {
			return created, updated, fmt.Errorf("%w: upsert work ordinal=%d: %v", ErrUpstream, in.Ordinal, err)
		}

		if inserted {
			created++
			worksIngested.Inc()
		} else {
			updated++
			worksReverified.Inc()
		}
	}

	return created, updated, nil
}

func (a *API) handleArchiveWork(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(chi.URLParam(r, "handle"))
	workID, err := uuid.Parse(chi.URLParam(r, "workID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid work id is required"))
		return
	}

	agent, err := a.fetchAgentByHandle(r.Context(), handle)
	if err != nil {
		a.respondWorksError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Append-only log semantics: the row flips to ARCHIVED, it is never
	// deleted, and its ordinal is never reused.
	tag, err := a.store.DB.Exec(ctx,
		`UPDATE works SET status = 'ARCHIVED' WHERE id = $1 AND agent_id = $2`,
		workID, agent.ID,
	)
	if err != nil {
		a.respondWorksError(w, r, fmt.Errorf("%w: archive work: %v", ErrUpstream, err))
		return
	}
	if tag.RowsAffected() == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("work %s not found", workID))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"archived": workID})
}

// respondWorksError maps internal failures onto the client-facing taxonomy.
// Upstream details (bucket names, driver errors) are logged, never returned.
func (a *API) respondWorksError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidCursor):
		respondError(w, http.StatusBadRequest, ErrInvalidCursor)
	case errors.Is(err, ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		log.Printf("ERROR %s %s: %v", r.Method, r.URL.Path, err)
		respondError(w, http.StatusServiceUnavailable, errors.New("upstream storage unavailable"))
	default:
		log.Printf("ERROR %s %s: %v", r.Method, r.URL.Path, err)
		respondError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
