package manifest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const importBatchSize = 100

// ImportConfig configures pushing a verified manifest into the registry API.
type ImportConfig struct {
	Manifest     Manifest
	APIBase      string
	ServiceToken string
	HTTPClient   *http.Client
	Stdout       io.Writer
}

// ImportResult reports what the registry accepted.
type ImportResult struct {
	Batches int
	Created int
}

// Import posts the manifest's works to the registry in batches. Each batch
// carries an Idempotency-Key derived from the manifest signature and batch
// index, so re-running an interrupted import never duplicates rows.
func Import(ctx context.Context, cfg ImportConfig) (ImportResult, error) {
	if cfg.APIBase == "" {
		return ImportResult{}, errors.New("api base url is required")
	}
	if cfg.ServiceToken == "" {
		return ImportResult{}, errors.New("service token is required")
	}
	if len(cfg.Manifest.Works) == 0 {
		return ImportResult{}, errors.New("manifest lists no works")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	endpoint := strings.TrimRight(cfg.APIBase, "/") + "/v1/agents/" + cfg.Manifest.Agent + "/works"

	var result ImportResult
	works := cfg.Manifest.Works
	for start := 0; start < len(works); start += importBatchSize {
		end := start + importBatchSize
		if end > len(works) {
			end = len(works)
		}

		created, err := postBatch(ctx, client, endpoint, cfg.ServiceToken, importKey(cfg.Manifest, result.Batches), works[start:end])
		if err != nil {
			return result, fmt.Errorf("batch %d: %w", result.Batches, err)
		}

		result.Batches++
		result.Created += created
		if cfg.Stdout != nil {
			fmt.Fprintf(cfg.Stdout, "batch %d: %d created\n", result.Batches, created)
		}
	}

	return result, nil
}

func postBatch(ctx context.Context, client *http.Client, endpoint, token, idempotencyKey string, works []Work) (int, error) {
	items := make([]map[string]any, 0, len(works))
	for _, w := range works {
		item := map[string]any{
			"ordinal":     w.Ordinal,
			"storagePath": w.StoragePath,
		}
		if w.Title != "" {
			item["title"] = w.Title
		}
		if w.MimeType != "" {
			item["mimeType"] = w.MimeType
		}
		items = append(items, item)
	}

	payload, err := json.Marshal(map[string]any{"works": items})
	if err != nil {
		return 0, err
	}

	var body bytes.Buffer
	gz := gzip.NewWriter(&body)
	if _, err := gz.Write(payload); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Created int `json:"created"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Created, nil
}

// importKey derives a stable per-batch idempotency key from the manifest
// signature, or from its content when unsigned.
func importKey(m Manifest, batch int) string {
	seed := m.Signature
	if seed == "" {
		sum := sha256.Sum256([]byte(m.Agent + m.Bucket + m.CreatedAt.UTC().Format(time.RFC3339Nano)))
		seed = hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, batch)))
	return hex.EncodeToString(sum[:16])
}
