package manifest

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ObjectLister enumerates keys under a bucket prefix.
type ObjectLister interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

// BuildConfig configures manifest construction from bucket contents.
type BuildConfig struct {
	Agent     string
	Bucket    string
	Extension string
	Lister    ObjectLister
	Signer    *Signer
	Now       func() time.Time
}

// Build enumerates an agent's storage prefix and produces a signed manifest
// of every work found there, ordered by ascending ordinal. This is the
// reconciliation path from enumeration-only delivery to the relational
// index.
func Build(ctx context.Context, cfg BuildConfig) (Manifest, error) {
	if cfg.Agent == "" {
		return Manifest{}, errors.New("agent handle is required")
	}
	if cfg.Bucket == "" {
		return Manifest{}, errors.New("bucket is required")
	}
	if cfg.Lister == nil {
		return Manifest{}, errors.New("object lister is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = ".png"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	prefix := cfg.Agent + "/generations/"
	keys, err := cfg.Lister.ListKeys(ctx, cfg.Bucket, prefix)
	if err != nil {
		return Manifest{}, fmt.Errorf("enumerate %s: %w", prefix, err)
	}

	mimeType := mime.TypeByExtension(cfg.Extension)

	works := make([]Work, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, cfg.Extension) {
			continue
		}
		ordinal, ok := parseOrdinal(key, cfg.Extension)
		if !ok {
			continue
		}
		works = append(works, Work{
			Ordinal:     ordinal,
			StoragePath: key,
			Title:       strings.TrimSuffix(path.Base(key), cfg.Extension),
			MimeType:    mimeType,
		})
	}
	sort.Slice(works, func(i, j int) bool { return works[i].Ordinal < works[j].Ordinal })

	m := Manifest{
		Version:   "1",
		Agent:     cfg.Agent,
		Bucket:    cfg.Bucket,
		CreatedAt: cfg.Now().UTC(),
		Works:     works,
	}

	if cfg.Signer != nil {
		if err := m.Sign(cfg.Signer); err != nil {
			return Manifest{}, fmt.Errorf("sign manifest: %w", err)
		}
	}

	return m, nil
}

// parseOrdinal extracts the trailing integer from a key's filename.
func parseOrdinal(key, ext string) (int64, bool) {
	base := strings.TrimSuffix(path.Base(key), ext)

	end := len(base)
	start := end
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}

	ordinal, err := strconv.ParseInt(base[start:end], 10, 64)
	if err != nil || ordinal <= 0 {
		return 0, false
	}
	return ordinal, true
}
