package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"omniavatar/server/internal/model"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu sync.RWMutex

	accounts       map[string]model.Account
	accountByEmail map[string]string

	avatars map[string]model.Avatar
	videos  map[string]model.Video

	jobs          map[string]model.Job
	eventsByJob   map[string][]model.JobEvent
	eventSeqByJob map[string]int64

	invoicesByAccount map[string][]model.Invoice

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:          map[string]model.Account{},
		accountByEmail:    map[string]string{},
		avatars:           map[string]model.Avatar{},
		videos:            map[string]model.Video{},
		jobs:              map[string]model.Job{},
		eventsByJob:       map[string][]model.JobEvent{},
		eventSeqByJob:     map[string]int64{},
		invoicesByAccount: map[string][]model.Invoice{},
		now:               time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateAccount(_ context.Context, account model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(account.Email)
	if _, ok := s.accountByEmail[key]; ok {
		return model.Account{}, ErrConflict
	}
	if _, ok := s.accounts[account.ID]; ok {
		return model.Account{}, ErrConflict
	}
	s.accounts[account.ID] = account
	s.accountByEmail[key] = account.ID
	return account, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accountByEmail[strings.ToLower(email)]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) AdjustCredits(_ context.Context, accountID string, delta int) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	if a.CreditsRemaining+delta < 0 {
		return model.Account{}, ErrInsufficientCredits
	}
	a.CreditsRemaining += delta
	a.UpdatedAt = s.now().UTC()
	s.accounts[accountID] = a
	return a, nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, accountID string, sub Subscription) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	if sub.Credits != nil {
		if *sub.Credits < 0 {
			return model.Account{}, ErrInsufficientCredits
		}
		a.CreditsRemaining = *sub.Credits
	}
	a.SubscriptionTier = sub.Tier
	a.SubscriptionStatus = sub.Status
	a.BillingCycle = sub.Cycle
	a.CurrentPeriodEnd = sub.CurrentPeriodEnd
	a.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	a.UpdatedAt = sub.UpdatedAt
	s.accounts[accountID] = a
	return a, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) CreateAvatar(_ context.Context, avatar model.Avatar) (model.Avatar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.avatars[avatar.ID]; ok {
		return model.Avatar{}, ErrConflict
	}
	if _, ok := s.accounts[avatar.UserID]; !ok {
		return model.Avatar{}, ErrNotFound
	}
	avatar.VideoCount = 0
	s.avatars[avatar.ID] = avatar
	return avatar, nil
}

func (s *MemoryStore) GetAvatar(_ context.Context, id string) (model.Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.avatars[id]
	if !ok {
		return model.Avatar{}, ErrNotFound
	}
	a.VideoCount = s.videoCountLocked(id)
	return a, nil
}

func (s *MemoryStore) UpdateAvatar(_ context.Context, avatar model.Avatar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.avatars[avatar.ID]; !ok {
		return ErrNotFound
	}
	s.avatars[avatar.ID] = avatar
	return nil
}

func (s *MemoryStore) ListAvatars(_ context.Context, userID string) ([]model.Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Avatar
	for _, a := range s.avatars {
		if a.UserID != userID {
			continue
		}
		a.VideoCount = s.videoCountLocked(a.ID)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) videoCountLocked(avatarID string) int {
	n := 0
	for _, v := range s.videos {
		if v.AvatarID == avatarID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) CreateVideo(_ context.Context, video model.Video) (model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[video.ID]; ok {
		return model.Video{}, ErrConflict
	}
	if _, ok := s.avatars[video.AvatarID]; !ok {
		return model.Video{}, ErrNotFound
	}
	s.videos[video.ID] = video
	return video, nil
}

func (s *MemoryStore) GetVideo(_ context.Context, id string) (model.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return model.Video{}, ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) UpdateVideo(_ context.Context, video model.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[video.ID]; !ok {
		return ErrNotFound
	}
	s.videos[video.ID] = video
	return nil
}

func (s *MemoryStore) ListVideos(_ context.Context, userID string) ([]model.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Video
	for _, v := range s.videos {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) IncrementVideoViews(_ context.Context, id string) (model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return model.Video{}, ErrNotFound
	}
	v.ViewCount++
	s.videos[id] = v
	return v, nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job model.Job) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return model.Job{}, ErrConflict
	}
	s.jobs[job.ID] = job
	s.eventsByJob[job.ID] = []model.JobEvent{}
	s.eventSeqByJob[job.ID] = 0
	return job, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return j, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// ListJobs returns jobs oldest first; no statuses means every job.
func (s *MemoryStore) ListJobs(_ context.Context, statuses ...model.JobStatus) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Job
	for _, j := range s.jobs {
		if len(statuses) > 0 && !slices.Contains(statuses, j.Status) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendJobEvent(_ context.Context, jobID string, event model.JobEvent) (model.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return model.JobEvent{}, ErrNotFound
	}
	seq := s.eventSeqByJob[jobID] + 1
	s.eventSeqByJob[jobID] = seq
	event.Seq = seq
	event.JobID = jobID
	event.EventID = uuid.NewString()
	s.eventsByJob[jobID] = append(s.eventsByJob[jobID], event)
	return event, nil
}

func (s *MemoryStore) ListJobEventsFromSeq(_ context.Context, jobID string, fromSeq int64) ([]model.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.eventsByJob[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.JobEvent, 0, len(events))
	for _, e := range events {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateInvoice(_ context.Context, invoice model.Invoice) (model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[invoice.AccountID]; !ok {
		return model.Invoice{}, ErrNotFound
	}
	invoice.Items = append([]model.InvoiceItem(nil), invoice.Items...)
	s.invoicesByAccount[invoice.AccountID] = append(s.invoicesByAccount[invoice.AccountID], invoice)
	return invoice, nil
}

func (s *MemoryStore) ListInvoices(_ context.Context, accountID string) ([]model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]model.Invoice(nil), s.invoicesByAccount[accountID]...)
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) AccountStats(_ context.Context, accountID string, since time.Time) (model.AccountStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return model.AccountStats{}, ErrNotFound
	}
	stats := model.AccountStats{CreditsRemaining: a.CreditsRemaining}
	for _, av := range s.avatars {
		if av.UserID != accountID {
			continue
		}
		stats.TotalAvatars++
		if av.Status == model.AvatarCompleted {
			stats.CompletedAvatars++
		}
	}
	for _, v := range s.videos {
		if v.UserID != accountID {
			continue
		}
		stats.TotalVideos++
		stats.TotalViews += v.ViewCount
		if !v.CreatedAt.Before(since) {
			stats.VideosToday++
		}
	}
	for _, j := range s.jobs {
		if j.UserID == accountID && !j.Status.Terminal() {
			stats.ProcessingQueue++
		}
	}
	return stats, nil
}

func (s *MemoryStore) PlatformStats(_ context.Context, since time.Time) (model.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := model.PlatformStats{
		TotalUsers:   len(s.accounts),
		TotalAvatars: len(s.avatars),
		TotalVideos:  len(s.videos),
	}
	paid := 0
	for _, a := range s.accounts {
		if a.SubscriptionStatus == model.StatusActive {
			stats.ActiveUsers++
		}
		if a.SubscriptionTier != model.TierFree {
			paid++
		}
	}
	stats.ConversionRate = conversionRate(paid, stats.TotalUsers)
	for _, invoices := range s.invoicesByAccount {
		for _, inv := range invoices {
			if inv.Status == model.InvoicePaid && !inv.CreatedAt.Before(since) {
				stats.MonthlyRevenue += inv.Amount
			}
		}
	}
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			stats.ProcessingQueue++
		}
	}
	return stats, nil
}

func newerFirst(a, b time.Time, aID, bID string) bool {
	if a.Equal(b) {
		return aID < bID
	}
	return a.After(b)
}
