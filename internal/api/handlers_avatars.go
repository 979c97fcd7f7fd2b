package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"omniavatar/server/internal/estimate"
	"omniavatar/server/internal/listing"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/storage"
	"omniavatar/server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	multipartMemory  = 12 << 20
	maxAvatarRequest = estimate.MaxImageBytes + 1<<20
)

func (s *Server) generateAvatar(c *gin.Context) {
	ctx := c.Request.Context()
	account := accountFromContext(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAvatarRequest)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "File size must be less than 10MB")
			return
		}
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid form data")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	description := strings.TrimSpace(c.PostForm("description"))
	style := strings.TrimSpace(c.PostForm("style"))
	if name == "" || description == "" || style == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Name, description, and style are required")
		return
	}
	if err := estimate.ValidateAvatarStyle(style); err != nil {
		writeValidation(c, err)
		return
	}

	var (
		photo  multipart.File
		header *multipart.FileHeader
	)
	if f, h, err := c.Request.FormFile("photo"); err == nil {
		defer f.Close()
		if err := estimate.ValidateImageFile(h.Header.Get("Content-Type"), h.Size); err != nil {
			writeValidation(c, err)
			return
		}
		photo, header = f, h
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid photo upload")
		return
	}

	cost := estimate.AvatarCredits
	if !s.charge(c, account, cost) {
		return
	}

	now := time.Now().UTC()
	avatar := model.Avatar{
		ID:          uuid.NewString(),
		UserID:      account.ID,
		Name:        name,
		Description: description,
		Method:      model.MethodTextDescription,
		SourceData:  description,
		Style:       style,
		Gender:      strings.TrimSpace(c.PostForm("gender")),
		AgeRange:    strings.TrimSpace(c.PostForm("ageRange")),
		IsPublic:    formBool(c, "isPublic"),
		Status:      model.AvatarProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var photoKey string
	if photo != nil {
		key := storage.AvatarPhotoKey(account.ID, avatar.ID, header.Filename)
		obj, err := s.blobs.Put(ctx, key, header.Header.Get("Content-Type"), photo, header.Size)
		if err != nil {
			s.refund(ctx, account.ID, cost)
			s.log.Error("store avatar photo", "trace_id", traceIDFromContext(c), "key", key, "error", err)
			writeInternal(c, "Failed to store photo")
			return
		}
		avatar.Method = model.MethodPhotoUpload
		avatar.SourceData = obj.URL
		photoKey = obj.Key
	}

	if _, err := s.store.CreateAvatar(ctx, avatar); err != nil {
		s.refund(ctx, account.ID, cost)
		if photoKey != "" {
			if derr := s.blobs.Delete(context.WithoutCancel(ctx), photoKey); derr != nil {
				s.log.Warn("remove orphaned photo", "key", photoKey, "error", derr)
			}
		}
		s.log.Error("create avatar", "trace_id", traceIDFromContext(c), "error", err)
		writeInternal(c, "Failed to generate avatar")
		return
	}

	j, ok := s.submit(c, model.JobAvatar, account.ID, avatar.ID, cost)
	if !ok {
		s.failAvatar(c, avatar)
		return
	}
	if fresh, err := s.store.GetAvatar(ctx, avatar.ID); err == nil {
		avatar = fresh
	}
	writeData(c, http.StatusOK, "Avatar generation started", gin.H{
		"avatar":           avatar,
		"job":              j,
		"estimatedSeconds": estimate.EstimateGenerationTime(estimate.MethodFor(avatar.Method), avatar.Style),
	})
}

// failAvatar marks an avatar whose job never started as failed.
func (s *Server) failAvatar(c *gin.Context, avatar model.Avatar) {
	avatar.Status = model.AvatarFailed
	avatar.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateAvatar(context.WithoutCancel(c.Request.Context()), avatar); err != nil {
		s.log.Error("mark avatar failed", "trace_id", traceIDFromContext(c), "avatar_id", avatar.ID, "error", err)
	}
}

func (s *Server) listAvatars(c *gin.Context) {
	var q listing.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query")
		return
	}
	items, err := s.store.ListAvatars(c.Request.Context(), accountFromContext(c).ID)
	if err != nil {
		writeInternal(c, "Failed to list avatars")
		return
	}
	items = listing.Avatars(items, q)
	writeData(c, http.StatusOK, "", gin.H{
		"avatars": items,
		"total":   len(items),
	})
}

func (s *Server) getAvatar(c *gin.Context) {
	avatar, ok := s.loadAvatar(c, c.Param("avatar_id"), true)
	if !ok {
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"avatar": avatar})
}

func (s *Server) avatarStatus(c *gin.Context) {
	avatar, ok := s.loadAvatar(c, c.Param("avatar_id"), false)
	if !ok {
		return
	}
	total := estimate.EstimateGenerationTime(estimate.MethodFor(avatar.Method), avatar.Style)
	progress, stage := s.jobProgress(c.Request.Context(), avatar.JobID)
	var message string
	switch avatar.Status {
	case model.AvatarCompleted:
		progress, message = 100, "Avatar is ready"
	case model.AvatarFailed:
		message = "Avatar generation failed"
	default:
		message = "Generating avatar"
	}
	writeData(c, http.StatusOK, message, gin.H{
		"id":                     avatar.ID,
		"status":                 avatar.Status,
		"progress":               progress,
		"stage":                  stage,
		"avatarUrl":              avatar.AvatarURL,
		"estimatedTimeRemaining": remaining(total, progress, avatar.Status != model.AvatarProcessing),
	})
}

// loadAvatar fetches an avatar the caller may see, answering 404/403 itself.
func (s *Server) loadAvatar(c *gin.Context, id string, allowPublic bool) (model.Avatar, bool) {
	avatar, err := s.store.GetAvatar(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "AVATAR_NOT_FOUND", "Avatar not found")
		} else {
			writeInternal(c, "Failed to load avatar")
		}
		return model.Avatar{}, false
	}
	if avatar.UserID != accountFromContext(c).ID && !(allowPublic && avatar.IsPublic) {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to avatar")
		return model.Avatar{}, false
	}
	return avatar, true
}

func (s *Server) jobProgress(ctx context.Context, jobID string) (int, string) {
	if jobID == "" {
		return 0, ""
	}
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return 0, ""
	}
	return j.Progress, j.Stage
}

// remaining scales the expected total time by the share of work left.
func remaining(totalSeconds, progress int, done bool) int {
	if done || progress >= 100 {
		return 0
	}
	if progress < 0 {
		progress = 0
	}
	return totalSeconds * (100 - progress) / 100
}

func formBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(c.PostForm(key)))
	return err == nil && v
}
