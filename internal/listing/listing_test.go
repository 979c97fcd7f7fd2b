package listing

import (
	"testing"
	"time"

	"omniavatar/server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleVideos() []model.Video {
	return []model.Video{
		{ID: "1", Title: "Product Launch", Description: "new widget", Status: model.VideoCompleted, ViewCount: 45, CreatedAt: day("2024-01-10")},
		{ID: "2", Title: "Weekly update", Description: "team news", Status: model.VideoProcessing, ViewCount: 0, CreatedAt: day("2024-01-20")},
		{ID: "3", Title: "Launch recap", Description: "what shipped", Status: model.VideoCompleted, ViewCount: 128, CreatedAt: day("2024-01-15")},
		{ID: "4", Title: "Tutorial", Description: "getting started", Status: model.VideoCompleted, ViewCount: 89, CreatedAt: day("2024-01-05")},
		{ID: "5", Title: "Onboarding", Description: "welcome aboard", Status: model.VideoFailed, ViewCount: 3, CreatedAt: day("2024-01-01")},
	}
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, id(it))
	}
	return out
}

func videoID(v model.Video) string  { return v.ID }
func avatarID(a model.Avatar) string { return a.ID }

func TestVideosSearchMatchesTitlesCaseInsensitive(t *testing.T) {
	got := Videos(sampleVideos(), Query{Search: "LAUNCH"})
	assert.Equal(t, []string{"1", "3"}, ids(got, videoID))

	got = Videos(sampleVideos(), Query{Search: "launch", Sort: SortViews})
	assert.Equal(t, []string{"3", "1"}, ids(got, videoID))
}

func TestVideosSearchMatchesDescription(t *testing.T) {
	got := Videos(sampleVideos(), Query{Search: "welcome"})
	assert.Equal(t, []string{"5"}, ids(got, videoID))
}

func TestVideosStatusFilter(t *testing.T) {
	got := Videos(sampleVideos(), Query{Status: "completed", Sort: SortOldest})
	assert.Equal(t, []string{"4", "1", "3"}, ids(got, videoID))

	all := Videos(sampleVideos(), Query{Status: StatusAll})
	assert.Len(t, all, 5)
}

func TestVideosSorts(t *testing.T) {
	assert.Equal(t, []string{"2", "3", "1", "4", "5"}, ids(Videos(sampleVideos(), Query{Sort: SortNewest}), videoID))
	assert.Equal(t, []string{"3", "5", "1", "4", "2"}, ids(Videos(sampleVideos(), Query{Sort: SortTitle}), videoID))
	assert.Equal(t, []string{"3", "4", "1", "5", "2"}, ids(Videos(sampleVideos(), Query{Sort: SortViews}), videoID))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(Videos(sampleVideos(), Query{Sort: "bogus"}), videoID))
}

func TestNewestPutsLatestFirst(t *testing.T) {
	items := []model.Avatar{
		{ID: "jan", CreatedAt: day("2024-01-01")},
		{ID: "feb", CreatedAt: day("2024-02-01")},
	}
	got := Avatars(items, Query{Sort: SortNewest})
	require.Len(t, got, 2)
	assert.Equal(t, "feb", got[0].ID)
	assert.Equal(t, "jan", items[0].ID, "input must not be reordered")
}

func TestAvatarsSortByVideosIsStable(t *testing.T) {
	items := []model.Avatar{
		{ID: "a", Name: "Professional John", VideoCount: 3, Status: model.AvatarCompleted},
		{ID: "b", Name: "Creative Artist", VideoCount: 7, Status: model.AvatarCompleted},
		{ID: "c", Name: "Tutor Mode", VideoCount: 3, Status: model.AvatarProcessing},
		{ID: "d", Name: "Gaming Streamer", VideoCount: 12, Status: model.AvatarCompleted},
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids(Avatars(items, Query{Sort: SortVideos}), avatarID))
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(Avatars(items, Query{Sort: SortName}), avatarID))
	assert.Equal(t, []string{"c"}, ids(Avatars(items, Query{Status: "processing"}), avatarID))
}
