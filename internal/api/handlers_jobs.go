package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"omniavatar/server/internal/estimate"
	"omniavatar/server/internal/job"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/store"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

const (
	heartbeatInterval = 15 * time.Second
	subscriberBuffer  = 128
)

// charge checks that account may generate and takes cost credits from it,
// answering 403/429/402 itself when it may not.
func (s *Server) charge(c *gin.Context, account model.Account, cost int) bool {
	if !account.CanGenerate() {
		writeError(c, http.StatusForbidden, "SUBSCRIPTION_CANCELLED", "Your subscription is cancelled. Choose a plan to keep generating.")
		return false
	}
	if err := s.jobs.Admit(account.ID); err != nil {
		writeError(c, http.StatusTooManyRequests, "USER_JOB_LIMIT", "Too many generations in progress")
		return false
	}
	if _, err := s.store.AdjustCredits(c.Request.Context(), account.ID, -cost); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			writeError(c, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Insufficient credits")
			return false
		}
		s.log.Error("charge credits", "trace_id", traceIDFromContext(c), "account_id", account.ID, "error", err)
		writeInternal(c, "Failed to charge credits")
		return false
	}
	return true
}

func (s *Server) refund(ctx context.Context, accountID string, credits int) {
	if credits <= 0 {
		return
	}
	if _, err := s.store.AdjustCredits(context.WithoutCancel(ctx), accountID, credits); err != nil {
		s.log.Error("refund credits", "account_id", accountID, "credits", credits, "error", err)
	}
}

// submit queues a generation job for an asset whose credits were charged.
// On failure the credits are refunded and the error response is written.
func (s *Server) submit(c *gin.Context, kind model.JobKind, accountID, assetID string, credits int) (model.Job, bool) {
	j, err := s.jobs.Submit(c.Request.Context(), job.Request{
		Kind:    kind,
		UserID:  accountID,
		AssetID: assetID,
		Credits: credits,
		TraceID: traceIDFromContext(c),
	})
	if err != nil {
		s.refund(c.Request.Context(), accountID, credits)
		if errors.Is(err, job.ErrTooManyRunningJobs) {
			writeError(c, http.StatusTooManyRequests, "USER_JOB_LIMIT", "Too many generations in progress")
			return model.Job{}, false
		}
		s.log.Error("submit job", "trace_id", traceIDFromContext(c), "kind", kind, "asset_id", assetID, "error", err)
		writeInternal(c, "Failed to start generation")
		return model.Job{}, false
	}
	return j, true
}

func writeValidation(c *gin.Context, err error) {
	var verr *estimate.ValidationError
	if errors.As(err, &verr) {
		writeError(c, http.StatusBadRequest, strings.ToUpper(string(verr.Kind)), verr.Message)
		return
	}
	writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

func writeJobErr(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to job")
	case errors.Is(err, job.ErrInvalidJobState):
		writeError(c, http.StatusConflict, "INVALID_JOB_STATE", "Only failed or canceled jobs can be retried")
	case errors.Is(err, job.ErrTooManyRunningJobs):
		writeError(c, http.StatusTooManyRequests, "USER_JOB_LIMIT", "Too many generations in progress")
	case errors.Is(err, store.ErrInsufficientCredits):
		writeError(c, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Insufficient credits")
	default:
		writeInternal(c, "Failed to "+action+" job")
	}
}

func (s *Server) getJob(c *gin.Context) {
	j, err := s.jobs.GetForUser(c.Request.Context(), accountFromContext(c).ID, c.Param("job_id"))
	if err != nil {
		writeJobErr(c, err, "load")
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"job": j})
}

func (s *Server) cancelJob(c *gin.Context) {
	j, err := s.jobs.Cancel(c.Request.Context(), accountFromContext(c).ID, c.Param("job_id"))
	if err != nil {
		writeJobErr(c, err, "cancel")
		return
	}
	writeData(c, http.StatusOK, "Cancellation requested", gin.H{"job": j})
}

func (s *Server) retryJob(c *gin.Context) {
	account := accountFromContext(c)
	if !account.CanGenerate() {
		writeError(c, http.StatusForbidden, "SUBSCRIPTION_CANCELLED", "Your subscription is cancelled. Choose a plan to keep generating.")
		return
	}
	j, err := s.jobs.Retry(c.Request.Context(), account.ID, c.Param("job_id"), traceIDFromContext(c))
	if err != nil {
		writeJobErr(c, err, "retry")
		return
	}
	writeData(c, http.StatusOK, "Generation restarted", gin.H{"job": j})
}

func (s *Server) streamJobEvents(c *gin.Context) {
	j, err := s.jobs.GetForUser(c.Request.Context(), accountFromContext(c).ID, c.Param("job_id"))
	if err != nil {
		writeJobErr(c, err, "load")
		return
	}

	fromSeq := parseLastEventSeq(c.GetHeader("Last-Event-ID"))
	if q := c.Query("from_seq"); q != "" {
		if v, err := strconv.ParseInt(q, 10, 64); err == nil && v > 0 {
			fromSeq = v
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeInternal(c, "Streaming unsupported")
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: 2000\n\n")
	flusher.Flush()

	_ = s.followJob(c.Request.Context(), j.ID, fromSeq,
		func(evt model.JobEvent) error {
			writeSSE(c, evt)
			flusher.Flush()
			return nil
		},
		func() error {
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
			return nil
		},
	)
}

func (s *Server) jobSocket(c *gin.Context) {
	j, err := s.jobs.GetForUser(c.Request.Context(), accountFromContext(c).ID, c.Param("job_id"))
	if err != nil {
		writeJobErr(c, err, "load")
		return
	}
	fromSeq := parseLastEventSeq(c.Query("from_seq"))

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.log.Warn("websocket accept", "trace_id", traceIDFromContext(c), "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(c.Request.Context())
	err = s.followJob(ctx, j.ID, fromSeq,
		func(evt model.JobEvent) error {
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return wsjson.Write(wctx, conn, evt)
		},
		func() error {
			return conn.Ping(ctx)
		},
	)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "job finished")
	}
}

// followJob delivers the stored events after fromSeq and then live events,
// until a terminal event has been delivered or ctx ends. Events the hub
// dropped are read back from the store.
func (s *Server) followJob(ctx context.Context, jobID string, fromSeq int64, emit func(model.JobEvent) error, heartbeat func() error) error {
	sub, unsubscribe := s.hub.Subscribe(jobID, subscriberBuffer)
	defer unsubscribe()

	last := fromSeq
	deliver := func(evt model.JobEvent) (bool, error) {
		if evt.Seq <= last {
			return false, nil
		}
		if err := emit(evt); err != nil {
			return false, err
		}
		last = evt.Seq
		return terminalEvent(evt.Type), nil
	}
	catchUp := func() (bool, error) {
		backlog, err := s.jobs.ListEventsFrom(ctx, jobID, last)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		for _, evt := range backlog {
			if done, err := deliver(evt); done || err != nil {
				return done, err
			}
		}
		return false, nil
	}

	if done, err := catchUp(); done || err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			var (
				done bool
				err  error
			)
			if evt.Seq > last+1 {
				done, err = catchUp()
			} else {
				done, err = deliver(evt)
			}
			if done || err != nil {
				return err
			}
		case <-ticker.C:
			if err := heartbeat(); err != nil {
				return err
			}
		}
	}
}

func terminalEvent(t model.JobEventType) bool {
	return t == model.EventJobCompleted || t == model.EventJobFailed || t == model.EventJobCanceled
}

func writeSSE(c *gin.Context, evt model.JobEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

func parseLastEventSeq(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
