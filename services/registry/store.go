package registry

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/brightseth/genesis-registry/pkg/bus"
	gos3 "github.com/brightseth/genesis-registry/pkg/s3"
)

// Store holds external dependencies required by the registry layer.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}
