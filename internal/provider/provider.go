// Package provider is the boundary to the generation backend that turns an
// avatar or video request into media.
package provider

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"omniavatar/server/internal/model"
)

type Error struct {
	Category        string
	Code            string
	Retryable       bool
	UserMessage     string
	InternalMessage string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.InternalMessage)
}

type RenderInput struct {
	JobID   string
	TraceID string
	Kind    model.JobKind
	UserID  string
	Attempt int
	Avatar  *model.Avatar
	Video   *model.Video
}

type RenderOutput struct {
	MediaURL        string
	ThumbnailURL    string
	DurationSeconds int
}

// ProgressFunc receives the completion percentage and a short stage name.
type ProgressFunc func(progress int, stage string)

type Adapter interface {
	Render(ctx context.Context, in RenderInput, report ProgressFunc) (RenderOutput, *Error)
}

type stage struct {
	name     string
	progress int
}

var avatarStages = []stage{
	{"analyzing_input", 15},
	{"generating_face", 45},
	{"applying_style", 75},
	{"rendering_preview", 95},
}

var videoStages = []stage{
	{"synthesizing_voice", 20},
	{"animating_avatar", 50},
	{"lip_sync", 75},
	{"encoding", 95},
}

type MockAdapter struct {
	step        time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockAdapter waits step between render stages and fails a render with
// probability failureRate using a retryable upstream error.
func NewMockAdapter(step time.Duration, failureRate float64) *MockAdapter {
	return &MockAdapter{
		step:        step,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockAdapter) Render(ctx context.Context, in RenderInput, report ProgressFunc) (RenderOutput, *Error) {
	stages := videoStages
	if in.Kind == model.JobAvatar {
		stages = avatarStages
	}
	for _, st := range stages {
		if err := waitCancelable(ctx, m.step); err != nil {
			return RenderOutput{}, &Error{
				Category:        "canceled",
				Code:            "CANCELED",
				UserMessage:     "Generation canceled",
				InternalMessage: err.Error(),
			}
		}
		if report != nil {
			report(st.progress, st.name)
		}
	}

	if m.roll() {
		return RenderOutput{}, &Error{
			Category:        "network",
			Code:            "UPSTREAM_5XX",
			Retryable:       true,
			UserMessage:     "Generation service temporarily unavailable",
			InternalMessage: "mock random failure",
		}
	}

	switch in.Kind {
	case model.JobAvatar:
		name := in.JobID
		if in.Avatar != nil {
			name = in.Avatar.Name
		}
		return RenderOutput{
			MediaURL:     "/placeholder.svg?height=400&width=300&text=" + url.QueryEscape(name),
			ThumbnailURL: "/placeholder.svg?height=120&width=90&text=" + url.QueryEscape(name),
		}, nil
	case model.JobVideo:
		out := RenderOutput{
			MediaURL:     "/placeholder.mp4?id=" + url.QueryEscape(in.JobID),
			ThumbnailURL: "/placeholder.svg?height=360&width=640&text=" + url.QueryEscape(in.JobID),
		}
		if in.Video != nil {
			out.MediaURL = "/placeholder.mp4?id=" + url.QueryEscape(in.Video.ID)
			out.DurationSeconds = in.Video.DurationSeconds
		}
		return out, nil
	}
	return RenderOutput{}, &Error{
		Category:        "validation",
		Code:            "UNSUPPORTED_KIND",
		UserMessage:     "Unsupported generation request",
		InternalMessage: fmt.Sprintf("unknown job kind %q", in.Kind),
	}
}

func (m *MockAdapter) roll() bool {
	if m.failureRate <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.failureRate
}

func waitCancelable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
