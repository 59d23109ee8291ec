package history

import (
	"slices"

	"ozzus/client-aeza/internal/domain"
)

// Merge reconciles the server's history with the local cache.
//
// The server list is the base: for an id present in both, the server copy wins
// in full and local changes to it are dropped. Local-only records are appended.
// The result is sorted newest first by created_at, falling back to the numeric
// timestamp. Order of records with equal times is unspecified.
func Merge(server, local []domain.CheckRecord) []domain.CheckRecord {
	merged := make([]domain.CheckRecord, 0, len(server)+len(local))
	seen := make(map[string]struct{}, len(server)+len(local))

	for _, r := range server {
		merged = append(merged, r.Clone())
		seen[r.ID] = struct{}{}
	}

	for _, r := range local {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r.Clone())
	}

	slices.SortStableFunc(merged, func(a, b domain.CheckRecord) int {
		return b.SortTime().Compare(a.SortTime())
	})

	return merged
}

func truncate(records []domain.CheckRecord, limit int) []domain.CheckRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
