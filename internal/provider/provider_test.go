package provider

import (
	"context"
	"testing"
	"time"

	"omniavatar/server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdapterReportsMonotonicProgress(t *testing.T) {
	m := NewMockAdapter(0, 0)
	var seen []int
	out, perr := m.Render(context.Background(), RenderInput{
		JobID: "j1",
		Kind:  model.JobVideo,
		Video: &model.Video{ID: "v1", DurationSeconds: 42},
	}, func(p int, _ string) { seen = append(seen, p) })
	require.Nil(t, perr)

	require.Len(t, seen, len(videoStages))
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Equal(t, "/placeholder.mp4?id=v1", out.MediaURL)
	assert.Equal(t, 42, out.DurationSeconds)
}

func TestMockAdapterAvatarURLs(t *testing.T) {
	m := NewMockAdapter(0, 0)
	out, perr := m.Render(context.Background(), RenderInput{
		JobID:  "j1",
		Kind:   model.JobAvatar,
		Avatar: &model.Avatar{Name: "Ada Lovelace"},
	}, nil)
	require.Nil(t, perr)
	assert.Contains(t, out.MediaURL, "text=Ada+Lovelace")
	assert.NotEmpty(t, out.ThumbnailURL)
}

func TestMockAdapterCanceled(t *testing.T) {
	m := NewMockAdapter(time.Second, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, perr := m.Render(ctx, RenderInput{JobID: "j1", Kind: model.JobAvatar}, nil)
	require.NotNil(t, perr)
	assert.Equal(t, "CANCELED", perr.Code)
	assert.False(t, perr.Retryable)
}

func TestMockAdapterAlwaysFailing(t *testing.T) {
	m := NewMockAdapter(0, 1)
	_, perr := m.Render(context.Background(), RenderInput{JobID: "j1", Kind: model.JobVideo}, nil)
	require.NotNil(t, perr)
	assert.True(t, perr.Retryable)
	assert.Equal(t, "UPSTREAM_5XX", perr.Code)
}
