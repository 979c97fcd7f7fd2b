package store

import (
	"context"
	"errors"
	"math"
	"time"

	"omniavatar/server/internal/model"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Subscription is the set of account fields owned by billing.
type Subscription struct {
	Tier              model.SubscriptionTier
	Status            model.SubscriptionStatus
	Cycle             model.BillingCycle
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Credits           *int
	UpdatedAt         time.Time
}

// Store is the persistence boundary shared by the memory and sqlite backends.
// Implementations are safe for concurrent use.
type Store interface {
	CreateAccount(ctx context.Context, account model.Account) (model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (model.Account, error)
	// AdjustCredits adds delta to the balance and refuses to go below zero.
	AdjustCredits(ctx context.Context, accountID string, delta int) (model.Account, error)
	// UpdateSubscription writes only the subscription fields. The balance is
	// replaced in the same write when sub.Credits is set and is otherwise
	// left alone.
	UpdateSubscription(ctx context.Context, accountID string, sub Subscription) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)

	CreateAvatar(ctx context.Context, avatar model.Avatar) (model.Avatar, error)
	GetAvatar(ctx context.Context, id string) (model.Avatar, error)
	UpdateAvatar(ctx context.Context, avatar model.Avatar) error
	ListAvatars(ctx context.Context, userID string) ([]model.Avatar, error)

	CreateVideo(ctx context.Context, video model.Video) (model.Video, error)
	GetVideo(ctx context.Context, id string) (model.Video, error)
	UpdateVideo(ctx context.Context, video model.Video) error
	ListVideos(ctx context.Context, userID string) ([]model.Video, error)
	IncrementVideoViews(ctx context.Context, id string) (model.Video, error)

	CreateJob(ctx context.Context, job model.Job) (model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	UpdateJob(ctx context.Context, job model.Job) error
	ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.Job, error)
	AppendJobEvent(ctx context.Context, jobID string, event model.JobEvent) (model.JobEvent, error)
	ListJobEventsFromSeq(ctx context.Context, jobID string, fromSeq int64) ([]model.JobEvent, error)

	CreateInvoice(ctx context.Context, invoice model.Invoice) (model.Invoice, error)
	ListInvoices(ctx context.Context, accountID string) ([]model.Invoice, error)

	// AccountStats counts videos created at or after since as today's videos.
	AccountStats(ctx context.Context, accountID string, since time.Time) (model.AccountStats, error)
	// PlatformStats sums paid invoices created at or after since as revenue.
	PlatformStats(ctx context.Context, since time.Time) (model.PlatformStats, error)

	Close() error
}

func conversionRate(paid, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(paid)/float64(total)*1000) / 10
}
