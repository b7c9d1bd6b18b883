package store

import (
	"sort"

	"github.com/google/uuid"

	"github.com/moorhen/cartograph/internal/models"
)

// Paginate slices an already-filtered, deterministically-ordered item list
// into one page, binding the returned cursor to the filter that produced it.
func Paginate[T any](items []T, filter interface{}, page models.PageRequest) (*models.Page[T], error) {
	filterHash, err := models.FilterHash(filter)
	if err != nil {
		return nil, err
	}
	offset, err := models.DecodeCursor(page.Cursor, filterHash)
	if err != nil {
		return nil, err
	}
	limit := page.EffectiveLimit()

	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	result := &models.Page[T]{
		Items:      append([]T(nil), items[offset:end]...),
		TotalCount: total,
		HasMore:    end < total,
	}
	if result.HasMore {
		result.NextCursor = models.EncodeCursor(filterHash, end)
	}
	return result, nil
}

// PrepareChanges fills in missing change ids and timestamps. Timestamps come
// from the per-target monotonic clock; externally supplied timestamps are
// observed so later appends stay ordered.
func PrepareChanges(clock *Clock, changes []models.Change) []models.Change {
	prepared := make([]models.Change, len(changes))
	for i, c := range changes {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = clock.Next(c.TargetID)
		} else {
			clock.Observe(c.TargetID, c.DetectedAt)
		}
		if c.InitiatorType == "" {
			c.InitiatorType = models.InitiatorUnknown
		}
		prepared[i] = c
	}
	return prepared
}

// SortChangesNewestFirst orders changes by detectedAt descending, breaking
// ties by id descending so the order is total.
func SortChangesNewestFirst(changes []models.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].DetectedAt.Equal(changes[j].DetectedAt) {
			return changes[i].ID > changes[j].ID
		}
		return changes[i].DetectedAt.After(changes[j].DetectedAt)
	})
}

// SortChangesOldestFirst orders changes by detectedAt ascending then id.
func SortChangesOldestFirst(changes []models.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].DetectedAt.Equal(changes[j].DetectedAt) {
			return changes[i].ID < changes[j].ID
		}
		return changes[i].DetectedAt.Before(changes[j].DetectedAt)
	})
}
