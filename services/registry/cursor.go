package registry

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Cursors are opaque base64 tokens. The indexed source encodes the keyset
// position {ordinal, id}; the enumerated source encodes the last returned
// storage key as a bare JSON string. Each decoder rejects the other variant's
// shape outright: a cursor is only valid for the source that issued it, and a
// malformed token must never be treated as "start from the beginning".

type indexedCursor struct {
	Ordinal int64  `json:"ordinal"`
	ID      string `json:"id"`
}

func encodeIndexedCursor(ordinal int64, id uuid.UUID) string {
	raw, _ := json.Marshal(indexedCursor{Ordinal: ordinal, ID: id.String()})
	return base64.StdEncoding.EncodeToString(raw)
}

func decodeIndexedCursor(token string) (int64, uuid.UUID, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var c indexedCursor
	if err := dec.Decode(&c); err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: malformed position", ErrInvalidCursor)
	}
	if c.Ordinal <= 0 || c.ID == "" {
		return 0, uuid.Nil, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}

	id, err := uuid.Parse(c.ID)
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: bad id", ErrInvalidCursor)
	}

	return c.Ordinal, id, nil
}

func encodeEnumeratedCursor(lastKey string) string {
	raw, _ := json.Marshal(lastKey)
	return base64.StdEncoding.EncodeToString(raw)
}

func decodeEnumeratedCursor(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}

	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", fmt.Errorf("%w: malformed position", ErrInvalidCursor)
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty position", ErrInvalidCursor)
	}

	return key, nil
}
