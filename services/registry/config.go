package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigFromEnv builds a Config from REGISTRY_* environment variables.
//
// Required:
//   - REGISTRY_SERVICE_SECRET: HMAC secret for service credentials.
//
// Optional:
//   - REGISTRY_WORKS_BUCKET (falls back to S3_BUCKET).
//   - REGISTRY_SIGN_TTL_INDEXED / REGISTRY_SIGN_TTL_ENUMERATED: seconds.
//   - REGISTRY_LISTING_CACHE_TTL: seconds.
//   - REGISTRY_WORKS_EXTENSION (default ".png").
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		ServiceSecret:  strings.TrimSpace(os.Getenv("REGISTRY_SERVICE_SECRET")),
		WorksBucket:    strings.TrimSpace(os.Getenv("REGISTRY_WORKS_BUCKET")),
		WorksExtension: strings.TrimSpace(os.Getenv("REGISTRY_WORKS_EXTENSION")),
	}

	if cfg.ServiceSecret == "" {
		return Config{}, fmt.Errorf("REGISTRY_SERVICE_SECRET is required")
	}

	var err error
	if cfg.IndexedSignTTL, err = ttlFromEnv("REGISTRY_SIGN_TTL_INDEXED"); err != nil {
		return Config{}, err
	}
	if cfg.EnumeratedSignTTL, err = ttlFromEnv("REGISTRY_SIGN_TTL_ENUMERATED"); err != nil {
		return Config{}, err
	}
	if cfg.ListingCacheTTL, err = ttlFromEnv("REGISTRY_LISTING_CACHE_TTL"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func ttlFromEnv(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return time.Duration(secs) * time.Second, nil
}
