package registry

import (
	"context"
	"errors"
	"os"
	"time"
)

const (
	defaultIndexedSignTTL    = time.Hour
	defaultEnumeratedSignTTL = 30 * time.Minute
	defaultListingCacheTTL   = 5 * time.Minute
	defaultWorksExtension    = ".png"

	worksIngestedTopic = "registry.works.ingested"
	agentUpsertedTopic = "registry.agents.upserted"
)

// Config controls runtime behaviour for the registry handlers.
type Config struct {
	// WorksBucket is the default bucket for ingested works when the agent
	// record does not pin one.
	WorksBucket string

	// ServiceSecret is the HMAC secret used to verify service credentials on
	// privileged routes.
	ServiceSecret string

	// IndexedSignTTL and EnumeratedSignTTL are the presign lifetimes used for
	// index-backed and enumeration-backed delivery respectively.
	IndexedSignTTL    time.Duration
	EnumeratedSignTTL time.Duration

	// ListingCacheTTL bounds how long a bucket enumeration is reused before
	// the prefix is listed again.
	ListingCacheTTL time.Duration

	// WorksExtension is the object suffix recognised by the enumerated source.
	WorksExtension string
}

// eventPublisher is the slice of the bus the handlers need; tests substitute
// a recording fake.
type eventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// API wires storage, the signed-URL cache, and configuration for HTTP handlers.
type API struct {
	store  *Store
	config Config
	auth   *serviceAuth
	signer *urlSigner
	enum   *enumeratedSource
	events eventPublisher
}

// New initialises the API layer with defaults applied to the provided configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}

	if cfg.IndexedSignTTL <= 0 {
		cfg.IndexedSignTTL = defaultIndexedSignTTL
	}
	if cfg.EnumeratedSignTTL <= 0 {
		cfg.EnumeratedSignTTL = defaultEnumeratedSignTTL
	}
	if cfg.ListingCacheTTL <= 0 {
		cfg.ListingCacheTTL = defaultListingCacheTTL
	}
	if cfg.WorksExtension == "" {
		cfg.WorksExtension = defaultWorksExtension
	}
	if cfg.WorksBucket == "" {
		cfg.WorksBucket = os.Getenv("S3_BUCKET")
	}
	if cfg.WorksBucket == "" {
		return nil, errors.New("works bucket is required")
	}
	if cfg.ServiceSecret == "" {
		return nil, errors.New("service secret is required")
	}

	api := &API{
		store:  store,
		config: cfg,
		auth:   newServiceAuth([]byte(cfg.ServiceSecret)),
		signer: newURLSigner(store.S3, time.Now),
		enum:   newEnumeratedSource(store.S3, cfg.WorksExtension, cfg.ListingCacheTTL, cfg.EnumeratedSignTTL, time.Now),
	}
	if store.Bus != nil {
		api.events = store.Bus
	}
	return api, nil
}
