package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Agent models a roster member that owns a collection of works.
type Agent struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Handle       string         `json:"handle" db:"handle"`
	DisplayName  string         `json:"displayName" db:"display_name"`
	Status       string         `json:"status" db:"status"`
	WorksIndexed bool           `json:"worksIndexed" db:"works_indexed"`
	WorksBucket  string         `json:"worksBucket,omitempty" db:"works_bucket"`
	Profile      map[string]any `json:"profile" db:"profile"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// agentRef is the envelope subset returned alongside work listings.
type agentRef struct {
	ID          uuid.UUID `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName"`
}

func (a Agent) ref() agentRef {
	return agentRef{ID: a.ID, Handle: a.Handle, DisplayName: a.DisplayName}
}

type agentModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Handle       string            `gorm:"type:text;uniqueIndex;not null"`
	DisplayName  string            `gorm:"type:text;not null"`
	Status       string            `gorm:"type:text;not null;default:'ACTIVE'"`
	WorksIndexed bool              `gorm:"type:boolean;not null;default:false"`
	WorksBucket  string            `gorm:"type:text"`
	Profile      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (agentModel) TableName() string { return "agents" }

func (m agentModel) toAPI() Agent {
	return Agent{
		ID:           m.ID,
		Handle:       m.Handle,
		DisplayName:  m.DisplayName,
		Status:       m.Status,
		WorksIndexed: m.WorksIndexed,
		WorksBucket:  m.WorksBucket,
		Profile:      mapFromJSONMap(m.Profile),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func mapFromJSONMap(m datatypes.JSONMap) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return map[string]any(m)
}
