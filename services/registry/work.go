package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Work visibility values. Only ACTIVE works are ever listed; ARCHIVED rows are
// retained for the append-only history.
const (
	VisibilityPublic  = "PUBLIC"
	VisibilityPrivate = "PRIVATE"
	VisibilityDraft   = "DRAFT"

	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// Work is a single generated artifact belonging to one agent. (agent_id,
// ordinal) is unique and neither field ever changes after insert.
type Work struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	AgentID        uuid.UUID      `json:"agentId" db:"agent_id"`
	Ordinal        int64          `json:"ordinal" db:"ordinal"`
	StorageBucket  string         `json:"-" db:"storage_bucket"`
	StoragePath    string         `json:"-" db:"storage_path"`
	Title          string         `json:"title" db:"title"`
	MimeType       string         `json:"mimeType" db:"mime_type"`
	Width          int            `json:"width,omitempty" db:"width"`
	Height         int            `json:"height,omitempty" db:"height"`
	Metadata       map[string]any `json:"metadata" db:"metadata"`
	Visibility     string         `json:"visibility" db:"visibility"`
	Status         string         `json:"status" db:"status"`
	PublishedAt    *time.Time     `json:"publishedAt" db:"published_at"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	LastVerifiedAt *time.Time     `json:"lastVerifiedAt,omitempty" db:"last_verified_at"`
}

// workItem is the delivery shape for one work on a page. SignedURL is null and
// SigningError set when presigning that one object failed; the page itself
// still renders.
type workItem struct {
	ID           uuid.UUID      `json:"id"`
	Ordinal      int64          `json:"ordinal"`
	Title        string         `json:"title"`
	SignedURL    *string        `json:"signed_url"`
	SigningError string         `json:"signing_error,omitempty"`
	MimeType     string         `json:"mimeType"`
	Width        int            `json:"width,omitempty"`
	Height       int            `json:"height,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	PublishedAt  *time.Time     `json:"publishedAt"`
}

// worksEnvelope is identical in shape regardless of which listing source
// produced it, so clients never learn which variant served them.
type worksEnvelope struct {
	Items      []workItem `json:"items"`
	NextCursor *string    `json:"nextCursor"`
	HasMore    bool       `json:"hasMore"`
	Agent      agentRef   `json:"agent"`
}

// workChecksum derives the deterministic duplicate-detection key for an
// ingested work from its owning agent and ordinal.
func workChecksum(agentID uuid.UUID, ordinal int64) string {
	sum := sha256.Sum256([]byte(agentID.String() + ":" + strconv.FormatInt(ordinal, 10)))
	return hex.EncodeToString(sum[:])
}

func validVisibility(v string) bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityDraft:
		return true
	default:
		return false
	}
}
