package stores

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// sortByUpdatedDesc orders items updated_at DESC with id ASC on ties, the
// stable order every list endpoint promises.
func sortByUpdatedDesc[T any](items []T, key func(T) (time.Time, uuid.UUID)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi.String() < idj.String()
	})
}

// pageSlice applies page/page_size to an already-ordered result set.
func pageSlice[T any](items []T, f ListFilter) []T {
	f = f.Normalize()
	start := (f.Page - 1) * f.PageSize
	if start >= len(items) {
		return nil
	}
	end := start + f.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
