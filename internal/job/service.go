package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"omniavatar/server/internal/events"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/provider"
	"omniavatar/server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrTooManyRunningJobs = errors.New("too many running jobs for user")
	ErrInvalidJobState    = errors.New("invalid job state")
)

type Options struct {
	MaxConcurrent int
	MaxUserJobs   int
	MaxAttempts   int
	// BaseBackoff is the first retry delay; later retries double it.
	BaseBackoff time.Duration
}

func (o *Options) normalize() {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 20
	}
	if o.MaxUserJobs < 1 {
		o.MaxUserJobs = 2
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
}

type Request struct {
	Kind    model.JobKind
	UserID  string
	AssetID string
	// Credits already charged for this job; refunded if it does not complete.
	Credits int
	TraceID string
}

type Service struct {
	store store.Store
	hub   *events.Hub
	prov  provider.Adapter
	log   *slog.Logger
	opts  Options

	globalSem chan struct{}

	// baseCtx is canceled on shutdown; runners stop without touching job state.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	// jobMu serializes read-modify-write cycles on job records.
	jobMu sync.Mutex

	mu           sync.Mutex
	activeByUser map[string]int
	runners      map[string]context.CancelFunc
	// rerun holds jobs re-queued while their previous runner was still exiting.
	rerun map[string]model.Job
}

func NewService(st store.Store, hub *events.Hub, prov provider.Adapter, logger *slog.Logger, opts Options) *Service {
	opts.normalize()
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		store:        st,
		hub:          hub,
		prov:         prov,
		log:          logger,
		opts:         opts,
		globalSem:    make(chan struct{}, opts.MaxConcurrent),
		baseCtx:      ctx,
		stop:         stop,
		activeByUser: map[string]int{},
		runners:      map[string]context.CancelFunc{},
		rerun:        map[string]model.Job{},
	}
}

// Run recovers unfinished jobs and blocks until ctx is done, then waits for
// active runners to stop.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Shutdown()
	return nil
}

func (s *Service) Shutdown() {
	s.stop()
	s.wg.Wait()
}

// Admit reports whether userID may start another job.
func (s *Service) Admit(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeByUser[userID] >= s.opts.MaxUserJobs {
		return ErrTooManyRunningJobs
	}
	return nil
}

func (s *Service) Submit(ctx context.Context, req Request) (model.Job, error) {
	if req.Kind != model.JobAvatar && req.Kind != model.JobVideo {
		return model.Job{}, fmt.Errorf("unknown job kind %q", req.Kind)
	}
	if err := s.Admit(req.UserID); err != nil {
		return model.Job{}, err
	}

	job := model.Job{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		UserID:     req.UserID,
		AssetID:    req.AssetID,
		Status:     model.JobQueued,
		Credits:    req.Credits,
		MaxAttempt: s.opts.MaxAttempts,
		TraceID:    req.TraceID,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := s.store.CreateJob(ctx, job)
	if err != nil {
		return model.Job{}, err
	}
	if err := s.markAsset(ctx, created, assetQueued, provider.RenderOutput{}); err != nil {
		return model.Job{}, err
	}

	s.publishEvent(ctx, created, model.EventJobCreated, map[string]any{
		"status":   created.Status,
		"kind":     created.Kind,
		"asset_id": created.AssetID,
	})
	s.startRunner(created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetForUser returns the job when it belongs to userID.
func (s *Service) GetForUser(ctx context.Context, userID, jobID string) (model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.UserID != userID {
		return model.Job{}, store.ErrForbidden
	}
	return job, nil
}

func (s *Service) ListEventsFrom(ctx context.Context, jobID string, fromSeq int64) ([]model.JobEvent, error) {
	return s.store.ListJobEventsFromSeq(ctx, jobID, fromSeq)
}

func (s *Service) Cancel(ctx context.Context, userID, jobID string) (model.Job, error) {
	job, err := s.GetForUser(ctx, userID, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	job, err = s.mutateJob(ctx, jobID, func(j *model.Job) {
		j.CancelRequested = true
	})
	if err != nil {
		return model.Job{}, err
	}

	s.mu.Lock()
	cancel, running := s.runners[jobID]
	s.mu.Unlock()
	if running {
		cancel()
		return job, nil
	}
	return s.finishCanceled(ctx, job), nil
}

// Retry re-queues a failed or canceled job, charging its credits again.
func (s *Service) Retry(ctx context.Context, userID, jobID, traceID string) (model.Job, error) {
	job, err := s.GetForUser(ctx, userID, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.Status != model.JobFailed && job.Status != model.JobCanceled {
		return model.Job{}, ErrInvalidJobState
	}
	if err := s.Admit(userID); err != nil {
		return model.Job{}, err
	}
	if job.Credits > 0 {
		if _, err := s.store.AdjustCredits(ctx, userID, -job.Credits); err != nil {
			return model.Job{}, err
		}
	}
	prev := job

	job, err = s.mutateJob(ctx, jobID, func(j *model.Job) {
		j.Status = model.JobQueued
		j.Progress = 0
		j.Stage = ""
		j.Attempt = 0
		j.CancelRequested = false
		j.ErrorCode = ""
		j.ErrorMessage = ""
		j.Retryable = false
		j.StartedAt = time.Time{}
		j.EndedAt = time.Time{}
		if traceID != "" {
			j.TraceID = traceID
		}
	})
	if err != nil {
		s.refund(context.WithoutCancel(ctx), prev)
		return model.Job{}, err
	}
	if err := s.markAsset(ctx, job, assetQueued, provider.RenderOutput{}); err != nil {
		undoCtx := context.WithoutCancel(ctx)
		if _, uerr := s.mutateJob(undoCtx, jobID, func(j *model.Job) { *j = prev }); uerr != nil {
			s.log.Error("restore job after failed retry", "job_id", jobID, "error", uerr)
		}
		s.refund(undoCtx, prev)
		return model.Job{}, err
	}
	s.publishEvent(ctx, job, model.EventJobCreated, map[string]any{
		"status": "retry_queued",
	})
	s.startRunner(job)
	return job, nil
}

// Recover restarts jobs left queued or processing by a previous process.
func (s *Service) Recover(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx, model.JobQueued, model.JobProcessing)
	if err != nil {
		return fmt.Errorf("list unfinished jobs: %w", err)
	}
	for _, job := range jobs {
		if job.CancelRequested {
			s.finishCanceled(ctx, job)
			continue
		}
		s.log.Info("recovering job", "job_id", job.ID, "kind", job.Kind, "status", job.Status)
		requeued, err := s.mutateJob(ctx, job.ID, func(j *model.Job) {
			j.Status = model.JobQueued
			j.Attempt = 0
		})
		if err != nil {
			return fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		s.startRunner(requeued)
	}
	return nil
}

func (s *Service) startRunner(job model.Job) {
	s.mu.Lock()
	if _, ok := s.runners[job.ID]; ok {
		s.rerun[job.ID] = job
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.runners[job.ID] = cancel
	s.activeByUser[job.UserID]++
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runJob(ctx, job.ID, job.UserID)
}

func (s *Service) finishRunner(jobID, userID string) {
	s.mu.Lock()
	if cancel, ok := s.runners[jobID]; ok {
		cancel()
		delete(s.runners, jobID)
	}
	if s.activeByUser[userID] > 0 {
		s.activeByUser[userID]--
	}
	if s.activeByUser[userID] == 0 {
		delete(s.activeByUser, userID)
	}
	next, again := s.rerun[jobID]
	delete(s.rerun, jobID)
	s.mu.Unlock()

	if again && s.baseCtx.Err() == nil {
		s.startRunner(next)
	}
	s.wg.Done()
}

func (s *Service) runJob(ctx context.Context, jobID, userID string) {
	defer s.finishRunner(jobID, userID)
	// Job bookkeeping outlives a canceled render context.
	bg := context.WithoutCancel(ctx)

	select {
	case s.globalSem <- struct{}{}:
		defer func() { <-s.globalSem }()
	case <-ctx.Done():
		s.stopped(bg, jobID)
		return
	}

	job, err := s.mutateJob(bg, jobID, func(j *model.Job) {
		if j.Status.Terminal() || j.CancelRequested {
			return
		}
		j.Status = model.JobProcessing
		if j.StartedAt.IsZero() {
			j.StartedAt = time.Now().UTC()
		}
	})
	if err != nil {
		s.log.Error("load job failed", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		return
	}
	if job.CancelRequested {
		s.finishCanceled(bg, job)
		return
	}
	if err := s.markAsset(bg, job, assetProcessing, provider.RenderOutput{}); err != nil {
		s.log.Warn("mark asset processing failed", "job_id", job.ID, "asset_id", job.AssetID, "error", err)
	}
	s.publishEvent(bg, job, model.EventJobStarted, map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
	})

	in, err := s.renderInput(bg, job)
	if err != nil {
		s.finishFailed(bg, job, &provider.Error{
			Category:        "validation",
			Code:            "ASSET_MISSING",
			UserMessage:     "The asset for this job no longer exists",
			InternalMessage: err.Error(),
		})
		return
	}

	var lastErr *provider.Error
	for job.Attempt < job.MaxAttempt {
		job, err = s.mutateJob(bg, jobID, func(j *model.Job) { j.Attempt++ })
		if err != nil {
			s.log.Error("update attempt failed", "job_id", jobID, "error", err)
			return
		}
		in.Attempt = job.Attempt

		out, pErr := s.prov.Render(ctx, in, func(progress int, stage string) {
			s.reportProgress(bg, jobID, progress, stage)
		})
		if pErr == nil {
			s.finishCompleted(bg, jobID, out)
			return
		}
		if ctx.Err() != nil {
			s.stopped(bg, jobID)
			return
		}

		lastErr = pErr
		s.log.Warn("render attempt failed",
			"job_id", jobID,
			"trace_id", job.TraceID,
			"attempt", job.Attempt,
			"error_code", pErr.Code,
			"retryable", pErr.Retryable,
		)
		if !pErr.Retryable || job.Attempt >= job.MaxAttempt {
			break
		}

		backoff := retryBackoff(job.Attempt, s.opts.BaseBackoff)
		s.publishEvent(bg, job, model.EventJobRetrying, map[string]any{
			"attempt":    job.Attempt,
			"backoff_ms": backoff.Milliseconds(),
			"error_code": pErr.Code,
		})
		if !sleepCtx(ctx, backoff) {
			s.stopped(bg, jobID)
			return
		}
	}

	if lastErr == nil {
		lastErr = &provider.Error{
			Category:        "unknown",
			Code:            "UNKNOWN",
			UserMessage:     "Unknown failure",
			InternalMessage: "no attempts left",
		}
	}
	s.finishFailed(bg, job, lastErr)
}

// stopped handles a render context that ended. A user cancel finalizes the job;
// a shutdown leaves it for Recover.
func (s *Service) stopped(ctx context.Context, jobID string) {
	if s.baseCtx.Err() != nil {
		return
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	s.finishCanceled(ctx, job)
}

func (s *Service) reportProgress(ctx context.Context, jobID string, progress int, stage string) {
	if progress > 99 {
		progress = 99
	}
	advanced := false
	job, err := s.mutateJob(ctx, jobID, func(j *model.Job) {
		if progress <= j.Progress || j.Status.Terminal() {
			return
		}
		j.Progress = progress
		j.Stage = stage
		advanced = true
	})
	if err != nil || !advanced {
		return
	}
	s.publishEvent(ctx, job, model.EventJobProgress, map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
		"stage":    job.Stage,
	})
}

func (s *Service) finishCompleted(ctx context.Context, jobID string, out provider.RenderOutput) {
	job, err := s.mutateJob(ctx, jobID, func(j *model.Job) {
		j.Status = model.JobCompleted
		j.Progress = 100
		j.Stage = "completed"
		j.ErrorCode = ""
		j.ErrorMessage = ""
		j.Retryable = false
		j.EndedAt = time.Now().UTC()
	})
	if err != nil {
		s.log.Error("complete job failed", "job_id", jobID, "error", err)
		return
	}
	if err := s.markAsset(ctx, job, assetCompleted, out); err != nil {
		s.log.Error("complete asset failed", "job_id", job.ID, "asset_id", job.AssetID, "error", err)
	}
	s.publishEvent(ctx, job, model.EventJobCompleted, map[string]any{
		"status":        job.Status,
		"progress":      job.Progress,
		"media_url":     out.MediaURL,
		"thumbnail_url": out.ThumbnailURL,
	})
}

func (s *Service) finishFailed(ctx context.Context, job model.Job, pErr *provider.Error) {
	job, err := s.mutateJob(ctx, job.ID, func(j *model.Job) {
		j.Status = model.JobFailed
		j.ErrorCode = pErr.Code
		j.ErrorMessage = pErr.UserMessage
		j.Retryable = pErr.Retryable
		j.EndedAt = time.Now().UTC()
	})
	if err != nil {
		s.log.Error("fail job failed", "job_id", job.ID, "error", err)
		return
	}
	if err := s.markAsset(ctx, job, assetFailed, provider.RenderOutput{}); err != nil {
		s.log.Error("fail asset failed", "job_id", job.ID, "asset_id", job.AssetID, "error", err)
	}
	s.refund(ctx, job)
	s.publishEvent(ctx, job, model.EventJobFailed, map[string]any{
		"status":        job.Status,
		"progress":      job.Progress,
		"error_code":    job.ErrorCode,
		"error_message": job.ErrorMessage,
		"retryable":     job.Retryable,
	})
}

func (s *Service) finishCanceled(ctx context.Context, job model.Job) model.Job {
	alreadyDone := false
	job, err := s.mutateJob(ctx, job.ID, func(j *model.Job) {
		if j.Status.Terminal() {
			alreadyDone = true
			return
		}
		j.Status = model.JobCanceled
		j.CancelRequested = true
		j.ErrorCode = "CANCELED"
		j.ErrorMessage = "Canceled by user"
		j.Retryable = false
		j.EndedAt = time.Now().UTC()
	})
	if err != nil {
		s.log.Error("cancel job failed", "job_id", job.ID, "error", err)
		return job
	}
	if alreadyDone {
		return job
	}
	if err := s.markAsset(ctx, job, assetFailed, provider.RenderOutput{}); err != nil {
		s.log.Error("cancel asset failed", "job_id", job.ID, "asset_id", job.AssetID, "error", err)
	}
	s.refund(ctx, job)
	s.publishEvent(ctx, job, model.EventJobCanceled, map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
	})
	return job
}

func (s *Service) refund(ctx context.Context, job model.Job) {
	if job.Credits <= 0 {
		return
	}
	if _, err := s.store.AdjustCredits(ctx, job.UserID, job.Credits); err != nil {
		s.log.Error("refund credits failed", "job_id", job.ID, "user_id", job.UserID, "credits", job.Credits, "error", err)
		return
	}
	s.log.Info("credits refunded", "job_id", job.ID, "user_id", job.UserID, "credits", job.Credits)
}

func (s *Service) mutateJob(ctx context.Context, jobID string, fn func(*model.Job)) (model.Job, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	fn(&job)
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	return job, nil
}

func (s *Service) renderInput(ctx context.Context, job model.Job) (provider.RenderInput, error) {
	in := provider.RenderInput{
		JobID:   job.ID,
		TraceID: job.TraceID,
		Kind:    job.Kind,
		UserID:  job.UserID,
	}
	switch job.Kind {
	case model.JobAvatar:
		av, err := s.store.GetAvatar(ctx, job.AssetID)
		if err != nil {
			return in, err
		}
		in.Avatar = &av
	case model.JobVideo:
		v, err := s.store.GetVideo(ctx, job.AssetID)
		if err != nil {
			return in, err
		}
		in.Video = &v
	}
	return in, nil
}

type assetState int

const (
	assetQueued assetState = iota
	assetProcessing
	assetCompleted
	assetFailed
)

func (s *Service) markAsset(ctx context.Context, job model.Job, state assetState, out provider.RenderOutput) error {
	now := time.Now().UTC()
	switch job.Kind {
	case model.JobAvatar:
		av, err := s.store.GetAvatar(ctx, job.AssetID)
		if err != nil {
			return err
		}
		av.JobID = job.ID
		av.UpdatedAt = now
		switch state {
		case assetQueued, assetProcessing:
			av.Status = model.AvatarProcessing
		case assetCompleted:
			av.Status = model.AvatarCompleted
			av.AvatarURL = out.MediaURL
			av.ThumbnailURL = out.ThumbnailURL
		case assetFailed:
			av.Status = model.AvatarFailed
		}
		return s.store.UpdateAvatar(ctx, av)
	case model.JobVideo:
		v, err := s.store.GetVideo(ctx, job.AssetID)
		if err != nil {
			return err
		}
		v.JobID = job.ID
		v.UpdatedAt = now
		switch state {
		case assetQueued:
			v.Status = model.VideoQueued
		case assetProcessing:
			v.Status = model.VideoProcessing
		case assetCompleted:
			v.Status = model.VideoCompleted
			v.VideoURL = out.MediaURL
			v.ThumbnailURL = out.ThumbnailURL
			if out.DurationSeconds > 0 {
				v.DurationSeconds = out.DurationSeconds
			}
		case assetFailed:
			v.Status = model.VideoFailed
		}
		return s.store.UpdateVideo(ctx, v)
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

func (s *Service) publishEvent(ctx context.Context, job model.Job, eventType model.JobEventType, payload map[string]any) {
	evt, err := s.store.AppendJobEvent(ctx, job.ID, model.JobEvent{
		TraceID: job.TraceID,
		JobID:   job.ID,
		AssetID: job.AssetID,
		Type:    eventType,
		TS:      time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		s.log.Error("append event failed", "job_id", job.ID, "error", err)
		return
	}
	s.hub.Publish(evt)
}

// retryBackoff doubles base per attempt (1s, 2s, 4s by default) plus up to 20% jitter.
func retryBackoff(attempt int, base time.Duration) time.Duration {
	d := base << max(attempt-1, 0)
	if j := int64(d / 5); j > 0 {
		d += time.Duration(rand.Int63n(j))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
