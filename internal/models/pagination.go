package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	// DefaultPageSize is the default number of items per page.
	DefaultPageSize = 100

	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 1000
)

// PageRequest carries pagination parameters for the paginated query variants.
type PageRequest struct {
	// Limit is the number of items per page (default 100, clamped to [1,1000]).
	Limit int `json:"limit"`

	// Cursor is an opaque cursor string for fetching the next page
	// (empty = first page).
	Cursor string `json:"cursor"`
}

// EffectiveLimit returns the limit clamped to [1, MaxPageSize], defaulting
// to DefaultPageSize when unset or non-positive.
func (p PageRequest) EffectiveLimit() int {
	if p.Limit <= 0 {
		if p.Limit == 0 {
			return DefaultPageSize
		}
		return 1
	}
	if p.Limit > MaxPageSize {
		return MaxPageSize
	}
	return p.Limit
}

// Page is one page of a paginated result set.
type Page[T any] struct {
	Items      []T    `json:"items"`
	TotalCount int    `json:"totalCount"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// pageCursor is the decoded form of an opaque cursor. It binds the offset to
// a hash of the filter it was issued for so a cursor cannot be replayed
// against a different filter.
type pageCursor struct {
	FilterHash uint64 `json:"h"`
	Offset     int    `json:"o"`
}

// FilterHash computes the canonical hash of a filter used to bind cursors.
func FilterHash(filter interface{}) (uint64, error) {
	h, err := hashstructure.Hash(filter, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to hash filter: %w", err)
	}
	return h, nil
}

// EncodeCursor builds an opaque base64url cursor for the given filter hash
// and offset.
func EncodeCursor(filterHash uint64, offset int) string {
	data, err := json.Marshal(pageCursor{FilterHash: filterHash, Offset: offset})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque cursor and validates it against the filter
// hash of the current call. A malformed cursor or one issued for a different
// filter yields ErrInvalidCursor.
func DecodeCursor(cursor string, filterHash uint64) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: bad encoding", ErrInvalidCursor)
	}
	var pc pageCursor
	if err := json.Unmarshal(data, &pc); err != nil {
		return 0, fmt.Errorf("%w: bad format", ErrInvalidCursor)
	}
	if pc.FilterHash != filterHash {
		return 0, fmt.Errorf("%w: cursor was issued for a different filter", ErrInvalidCursor)
	}
	if pc.Offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	return pc.Offset, nil
}
