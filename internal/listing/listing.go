// Package listing filters and sorts avatar and video collections the way
// the dashboard list screens present them.
package listing

import (
	"cmp"
	"slices"
	"strings"

	"omniavatar/server/internal/model"
)

const StatusAll = "all"

const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortName   = "name"
	SortTitle  = "title"
	SortVideos = "videos"
	SortViews  = "views"
)

type Query struct {
	Search string `form:"search"`
	Status string `form:"status"`
	Sort   string `form:"sort"`
}

// Avatars returns the avatars matching q, sorted by q.Sort. items is not modified.
func Avatars(items []model.Avatar, q Query) []model.Avatar {
	out := filter(items, q, func(a model.Avatar) (string, string, string) {
		return a.Name, a.Description, string(a.Status)
	})
	switch q.Sort {
	case SortNewest:
		slices.SortStableFunc(out, func(a, b model.Avatar) int { return b.CreatedAt.Compare(a.CreatedAt) })
	case SortOldest:
		slices.SortStableFunc(out, func(a, b model.Avatar) int { return a.CreatedAt.Compare(b.CreatedAt) })
	case SortName:
		slices.SortStableFunc(out, func(a, b model.Avatar) int { return compareText(a.Name, b.Name) })
	case SortVideos:
		slices.SortStableFunc(out, func(a, b model.Avatar) int { return cmp.Compare(b.VideoCount, a.VideoCount) })
	}
	return out
}

// Videos returns the videos matching q, sorted by q.Sort. items is not modified.
func Videos(items []model.Video, q Query) []model.Video {
	out := filter(items, q, func(v model.Video) (string, string, string) {
		return v.Title, v.Description, string(v.Status)
	})
	switch q.Sort {
	case SortNewest:
		slices.SortStableFunc(out, func(a, b model.Video) int { return b.CreatedAt.Compare(a.CreatedAt) })
	case SortOldest:
		slices.SortStableFunc(out, func(a, b model.Video) int { return a.CreatedAt.Compare(b.CreatedAt) })
	case SortTitle, SortName:
		slices.SortStableFunc(out, func(a, b model.Video) int { return compareText(a.Title, b.Title) })
	case SortViews:
		slices.SortStableFunc(out, func(a, b model.Video) int { return cmp.Compare(b.ViewCount, a.ViewCount) })
	}
	return out
}

func filter[T any](items []T, q Query, fields func(T) (name, description, status string)) []T {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	status := strings.TrimSpace(q.Status)
	out := make([]T, 0, len(items))
	for _, it := range items {
		name, desc, st := fields(it)
		if term != "" &&
			!strings.Contains(strings.ToLower(name), term) &&
			!strings.Contains(strings.ToLower(desc), term) {
			continue
		}
		if status != "" && status != StatusAll && st != status {
			continue
		}
		out = append(out, it)
	}
	return out
}

func compareText(a, b string) int {
	if c := cmp.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}
