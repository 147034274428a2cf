package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Params is a keyset page request. An empty Cursor starts at the beginning.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the (timestamp, id) key of the last row on the previous page.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// Page is one slice of an ordered listing. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Fetch is the row count to query: one extra row tells whether another page exists.
func Fetch(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Encode renders a cursor safe for query strings.
func Encode(cursor Cursor) string {
	payload := cursor.At.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// Decode parses a cursor produced by Encode. Blank input yields nil.
func Decode(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor id: %w", err)
	}
	return &Cursor{At: ts, ID: parsed}, nil
}

// Build trims rows fetched with Fetch(limit) down to limit and derives the
// next cursor from the last kept row.
func Build[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return Page[T]{Items: rows}
	}
	rows = rows[:limit]
	return Page[T]{Items: rows, NextCursor: Encode(key(rows[len(rows)-1]))}
}
