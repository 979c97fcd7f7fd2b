package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"omniavatar/server/internal/estimate"
	"omniavatar/server/internal/listing"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultQuality = "HD"
	titleRunes     = 50
)

type generateVideoRequest struct {
	AvatarID      string               `json:"avatarId"`
	Script        string               `json:"script"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	VoiceSettings *model.VoiceSettings `json:"voiceSettings"`
	Quality       string               `json:"quality" binding:"omitempty,quality"`
	IsPublic      bool                 `json:"isPublic"`
}

// videoPlan is the priced, validated shape of a video request.
type videoPlan struct {
	quality  model.QualityOption
	voice    model.VoiceSettings
	duration int
	credits  int
}

func (s *Server) planVideo(script, quality string, voice *model.VoiceSettings) (videoPlan, error) {
	if err := estimate.ValidateVideoScript(script); err != nil {
		return videoPlan{}, err
	}
	if quality == "" {
		quality = defaultQuality
	}
	q, ok := s.catalog.Quality(quality)
	if !ok {
		return videoPlan{}, &estimate.ValidationError{Kind: estimate.UnknownQuality, Message: "Unknown video quality " + quality}
	}
	vs := s.voiceOrDefault(voice)
	if err := estimate.ValidateVoiceSettings(vs); err != nil {
		return videoPlan{}, err
	}
	duration := estimate.EstimateVideoDuration(script, estimate.DefaultWordsPerMinute)
	if err := estimate.ValidateDuration(q.ID, duration); err != nil {
		return videoPlan{}, err
	}
	return videoPlan{
		quality:  q,
		voice:    vs,
		duration: duration,
		credits:  estimate.CalculateVideoCredits(q.ID, duration),
	}, nil
}

func (s *Server) voiceOrDefault(in *model.VoiceSettings) model.VoiceSettings {
	vs := model.VoiceSettings{VoiceID: s.catalog.DefaultVoice().ID, Speed: 1, Pitch: 1}
	if in == nil {
		return vs
	}
	if in.VoiceID != "" {
		vs.VoiceID = in.VoiceID
	}
	if in.Speed != 0 {
		vs.Speed = in.Speed
	}
	if in.Pitch != 0 {
		vs.Pitch = in.Pitch
	}
	return vs
}

func (s *Server) generateVideo(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	ctx := c.Request.Context()
	account := accountFromContext(c)

	var req generateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", bindMessage(err, "Invalid video request"))
		return
	}
	if strings.TrimSpace(req.AvatarID) == "" || strings.TrimSpace(req.Script) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Avatar ID and script are required")
		return
	}
	plan, err := s.planVideo(req.Script, req.Quality, req.VoiceSettings)
	if err != nil {
		writeValidation(c, err)
		return
	}
	avatar, ok := s.loadAvatar(c, req.AvatarID, true)
	if !ok {
		return
	}
	if avatar.Status != model.AvatarCompleted {
		writeError(c, http.StatusConflict, "AVATAR_NOT_READY", "Avatar is not ready yet")
		return
	}

	if !s.charge(c, account, plan.credits) {
		return
	}

	now := time.Now().UTC()
	video := model.Video{
		ID:              uuid.NewString(),
		UserID:          account.ID,
		AvatarID:        avatar.ID,
		Title:           videoTitle(req.Title, req.Script),
		Description:     strings.TrimSpace(req.Description),
		Script:          req.Script,
		VoiceSettings:   plan.voice,
		Quality:         plan.quality.Quality,
		DurationSeconds: plan.duration,
		CreditsCharged:  plan.credits,
		Status:          model.VideoQueued,
		IsPublic:        req.IsPublic,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.store.CreateVideo(ctx, video); err != nil {
		s.refund(ctx, account.ID, plan.credits)
		s.log.Error("create video", "trace_id", traceIDFromContext(c), "error", err)
		writeInternal(c, "Failed to generate video")
		return
	}

	j, ok := s.submit(c, model.JobVideo, account.ID, video.ID, plan.credits)
	if !ok {
		s.failVideo(c, video)
		return
	}
	if fresh, err := s.store.GetVideo(ctx, video.ID); err == nil {
		video = fresh
	}
	writeData(c, http.StatusOK, "Video generation started", gin.H{
		"video":            video,
		"job":              j,
		"estimatedSeconds": estimate.EstimatedRenderTime(plan.quality.ID, plan.duration),
	})
}

type estimateVideoRequest struct {
	Script  string `json:"script" binding:"required"`
	Quality string `json:"quality" binding:"omitempty,quality"`
}

func (s *Server) failVideo(c *gin.Context, video model.Video) {
	video.Status = model.VideoFailed
	video.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateVideo(context.WithoutCancel(c.Request.Context()), video); err != nil {
		s.log.Error("mark video failed", "trace_id", traceIDFromContext(c), "video_id", video.ID, "error", err)
	}
}

func (s *Server) estimateVideo(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req estimateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", bindMessage(err, "Invalid estimate request"))
		return
	}
	quality := req.Quality
	if quality == "" {
		quality = defaultQuality
	}
	q, _ := s.catalog.Quality(quality)
	duration := estimate.EstimateVideoDuration(req.Script, estimate.DefaultWordsPerMinute)
	resp := gin.H{
		"words":             estimate.WordCount(req.Script),
		"durationSeconds":   duration,
		"formattedDuration": estimate.FormatVideoDuration(duration),
		"credits":           estimate.CalculateVideoCredits(q.ID, duration),
		"estimatedSeconds":  estimate.EstimatedRenderTime(q.ID, duration),
		"valid":             true,
	}
	if err := estimate.ValidateVideoScript(req.Script); err != nil {
		resp["valid"], resp["validationError"] = false, err.Error()
	} else if err := estimate.ValidateDuration(q.ID, duration); err != nil {
		resp["valid"], resp["validationError"] = false, err.Error()
	}
	writeData(c, http.StatusOK, "", resp)
}

func (s *Server) listVideos(c *gin.Context) {
	var q listing.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query")
		return
	}
	items, err := s.store.ListVideos(c.Request.Context(), accountFromContext(c).ID)
	if err != nil {
		writeInternal(c, "Failed to list videos")
		return
	}
	items = listing.Videos(items, q)
	writeData(c, http.StatusOK, "", gin.H{
		"videos": items,
		"total":  len(items),
	})
}

func (s *Server) getVideo(c *gin.Context) {
	video, ok := s.loadVideo(c, c.Param("video_id"), true)
	if !ok {
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"video": video})
}

func (s *Server) videoStatus(c *gin.Context) {
	video, ok := s.loadVideo(c, c.Param("video_id"), false)
	if !ok {
		return
	}
	total := estimate.EstimatedRenderTime(s.qualityID(video.Quality), video.DurationSeconds)
	progress, stage := s.jobProgress(c.Request.Context(), video.JobID)
	var message string
	switch video.Status {
	case model.VideoCompleted:
		progress, message = 100, "Video is ready"
	case model.VideoFailed:
		message = "Video generation failed"
	case model.VideoQueued:
		message = "Waiting in queue"
	default:
		message = "Generating video"
	}
	done := video.Status == model.VideoCompleted || video.Status == model.VideoFailed
	writeData(c, http.StatusOK, message, gin.H{
		"id":                     video.ID,
		"status":                 video.Status,
		"progress":               progress,
		"stage":                  stage,
		"videoUrl":               video.VideoURL,
		"estimatedTimeRemaining": remaining(total, progress, done),
	})
}

func (s *Server) recordView(c *gin.Context) {
	video, ok := s.loadVideo(c, c.Param("video_id"), true)
	if !ok {
		return
	}
	updated, err := s.store.IncrementVideoViews(c.Request.Context(), video.ID)
	if err != nil {
		writeInternal(c, "Failed to record view")
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"viewCount": updated.ViewCount})
}

func (s *Server) loadVideo(c *gin.Context, id string, allowPublic bool) (model.Video, bool) {
	video, err := s.store.GetVideo(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "VIDEO_NOT_FOUND", "Video not found")
		} else {
			writeInternal(c, "Failed to load video")
		}
		return model.Video{}, false
	}
	if video.UserID != accountFromContext(c).ID && !(allowPublic && video.IsPublic) {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to video")
		return model.Video{}, false
	}
	return video, true
}

func (s *Server) qualityID(q model.VideoQuality) string {
	if opt, ok := s.catalog.Quality(string(q)); ok {
		return opt.ID
	}
	return strings.ToLower(string(q))
}

// videoTitle falls back to the opening of the script.
func videoTitle(title, script string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	script = strings.TrimSpace(script)
	if utf8.RuneCountInString(script) <= titleRunes {
		return script
	}
	return string([]rune(script)[:titleRunes]) + "..."
}
