package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Agent struct {
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

type Work struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	AgentID        uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_works_agent_ordinal,priority:1"`
	Ordinal        int64             `gorm:"type:bigint;not null;uniqueIndex:idx_works_agent_ordinal,priority:2"`
	StorageBucket  string            `gorm:"type:text;not null"`
	StoragePath    string            `gorm:"type:text;not null"`
	Title          string            `gorm:"type:text"`
	MimeType       string            `gorm:"type:text"`
	Width          int               `gorm:"type:int"`
	Height         int               `gorm:"type:int"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	Visibility     string            `gorm:"type:text;not null;default:'PUBLIC'"`
	Status         string            `gorm:"type:text;not null;default:'ACTIVE'"`
	Checksum       string            `gorm:"type:text;not null"`
	IdempotencyKey string            `gorm:"type:text;index"`
	PublishedAt    *time.Time        `gorm:"type:timestamptz"`
	CreatedAt      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	LastVerifiedAt *time.Time        `gorm:"type:timestamptz"`
	Agent          Agent             `gorm:"foreignKey:AgentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Work) TableName() string { return "works" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Agent{},
		&Work{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Work{}, "Agent"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Work{},
		&Agent{},
	); err != nil {
		return err
	}

	return nil
}
