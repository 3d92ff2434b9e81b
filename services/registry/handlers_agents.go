package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightseth/genesis-registry/pkg/db"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

const agentByHandleQuery = `
        SELECT id, handle, display_name, status, works_indexed, works_bucket, profile, created_at, updated_at
        FROM agents
        WHERE handle = $1
    `

func (a *API) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle       string         `json:"handle"`
		DisplayName  string         `json:"display_name"`
		WorksIndexed bool           `json:"works_indexed"`
		WorksBucket  string         `json:"works_bucket"`
		Profile      map[string]any `json:"profile"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Handle = strings.ToLower(strings.TrimSpace(req.Handle))
	if !handlePattern.MatchString(req.Handle) {
		respondError(w, http.StatusBadRequest, errors.New("handle must be lowercase alphanumeric"))
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		req.DisplayName = req.Handle
	}
	if req.Profile == nil {
		req.Profile = map[string]any{}
	}

	payload, err := json.Marshal(req.Profile)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("marshal profile: %w", err))
		return
	}

	query := `
        INSERT INTO agents (id, handle, display_name, status, works_indexed, works_bucket, profile, created_at, updated_at)
        VALUES ($1, $2, $3, 'ACTIVE', $4, $5, $6::jsonb, $7, $7)
        ON CONFLICT (handle) DO UPDATE SET
            display_name = EXCLUDED.display_name,
            works_indexed = EXCLUDED.works_indexed,
            works_bucket = EXCLUDED.works_bucket,
            profile = EXCLUDED.profile,
            updated_at = EXCLUDED.updated_at
        RETURNING id, handle, display_name, status, works_indexed, works_bucket, profile, created_at, updated_at;
    `

	var agent Agent
	if err := db.Get(r.Context(), a.store.DB, &agent, query,
		uuid.New(), req.Handle, req.DisplayName, req.WorksIndexed, req.WorksBucket, string(payload), time.Now().UTC(),
	); err != nil {
		log.Printf("ERROR upsert agent %s: %v", req.Handle, err)
		respondError(w, http.StatusServiceUnavailable, errors.New("registry store unavailable"))
		return
	}
	if agent.Profile == nil {
		agent.Profile = map[string]any{}
	}

	a.publishJSON(r.Context(), agentUpsertedTopic, map[string]any{
		"agent_id": agent.ID,
		"handle":   agent.Handle,
	})

	respondJSON(w, http.StatusOK, map[string]any{"agent": agent})
}

func (a *API) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(chi.URLParam(r, "handle"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var model agentModel
	if err := a.store.ORM.WithContext(ctx).Where("handle = ?", handle).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("agent %q not found", handle))
			return
		}
		respondError(w, http.StatusServiceUnavailable, errors.New("registry store unavailable"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"agent": model.toAPI()})
}

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var models []agentModel
	if err := a.store.ORM.WithContext(ctx).Order("handle").Limit(500).Find(&models).Error; err != nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("registry store unavailable"))
		return
	}

	agents := make([]Agent, 0, len(models))
	for _, m := range models {
		agents = append(agents, m.toAPI())
	}

	respondJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// fetchAgentByHandle resolves a handle on the request hot path.
func (a *API) fetchAgentByHandle(ctx context.Context, handle string) (Agent, error) {
	var agent Agent
	if err := db.Get(ctx, a.store.DB, &agent, agentByHandleQuery, handle); err != nil {
		if pgxscan.NotFound(err) {
			return Agent{}, fmt.Errorf("%w: agent %q", ErrNotFound, handle)
		}
		return Agent{}, fmt.Errorf("%w: fetch agent: %v", ErrUpstream, err)
	}
	if agent.Profile == nil {
		agent.Profile = map[string]any{}
	}
	return agent, nil
}

func (a *API) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if a.events == nil || subject == "" {
		return
	}
	if err := a.events.Publish(ctx, subject, payload); err != nil {
		log.Printf("ERROR publish %s: %v", subject, err)
	}
}
