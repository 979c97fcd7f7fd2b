package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"omniavatar/server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func seedAccount(t *testing.T, st Store, id, email string, credits int) model.Account {
	t.Helper()
	a, err := st.CreateAccount(context.Background(), model.Account{
		ID:                 id,
		Email:              email,
		FullName:           "Test " + id,
		PasswordHash:       "hash",
		Role:               model.RoleUser,
		SubscriptionTier:   model.TierFree,
		SubscriptionStatus: model.StatusActive,
		BillingCycle:       model.CycleMonthly,
		CreditsRemaining:   credits,
		CreatedAt:          base,
		UpdatedAt:          base,
	})
	require.NoError(t, err)
	return a
}

func TestAccounts(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedAccount(t, st, "u1", "Ada@Example.com", 3)

			_, err := st.CreateAccount(ctx, model.Account{ID: "u2", Email: "ada@example.com", CreatedAt: base, UpdatedAt: base})
			assert.True(t, errors.Is(err, ErrConflict), "duplicate email must conflict, got %v", err)

			got, err := st.GetAccountByEmail(ctx, "ADA@example.com")
			require.NoError(t, err)
			assert.Equal(t, "u1", got.ID)
			assert.Equal(t, "hash", got.PasswordHash)
			assert.True(t, got.CreatedAt.Equal(base))

			_, err = st.GetAccount(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			all, err := st.ListAccounts(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "u1", all[0].ID)
		})
	}
}

func TestUpdateSubscriptionLeavesOtherFields(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedAccount(t, st, "u1", "ada@example.com", 3)
			_, err := st.AdjustCredits(ctx, "u1", 4)
			require.NoError(t, err)

			end := base.Add(30 * 24 * time.Hour)
			got, err := st.UpdateSubscription(ctx, "u1", Subscription{
				Tier:              model.TierPro,
				Status:            model.StatusActive,
				Cycle:             model.CycleYearly,
				CurrentPeriodEnd:  end,
				CancelAtPeriodEnd: true,
				UpdatedAt:         base,
			})
			require.NoError(t, err)
			assert.Equal(t, 7, got.CreditsRemaining)
			assert.Equal(t, model.TierPro, got.SubscriptionTier)
			assert.Equal(t, model.CycleYearly, got.BillingCycle)
			assert.True(t, got.CurrentPeriodEnd.Equal(end))
			assert.True(t, got.CancelAtPeriodEnd)
			assert.Equal(t, "hash", got.PasswordHash)

			allotment := 150
			got, err = st.UpdateSubscription(ctx, "u1", Subscription{
				Tier:      model.TierPro,
				Status:    model.StatusCancelled,
				Cycle:     model.CycleMonthly,
				Credits:   &allotment,
				UpdatedAt: base,
			})
			require.NoError(t, err)
			assert.Equal(t, 150, got.CreditsRemaining)
			assert.Equal(t, model.StatusCancelled, got.SubscriptionStatus)

			_, err = st.UpdateSubscription(ctx, "missing", Subscription{UpdatedAt: base})
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestAdjustCreditsNeverNegative(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedAccount(t, st, "u1", "a@b.c", 3)

			a, err := st.AdjustCredits(ctx, "u1", -2)
			require.NoError(t, err)
			assert.Equal(t, 1, a.CreditsRemaining)

			_, err = st.AdjustCredits(ctx, "u1", -2)
			assert.True(t, errors.Is(err, ErrInsufficientCredits))

			a, err = st.GetAccount(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, a.CreditsRemaining)

			a, err = st.AdjustCredits(ctx, "u1", 50)
			require.NoError(t, err)
			assert.Equal(t, 51, a.CreditsRemaining)

			_, err = st.AdjustCredits(ctx, "nobody", 1)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestAvatarsAndVideos(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedAccount(t, st, "u1", "a@b.c", 10)

			_, err := st.CreateAvatar(ctx, model.Avatar{ID: "orphan", UserID: "nobody", Name: "x", Method: model.MethodTextDescription, Status: model.AvatarProcessing, CreatedAt: base, UpdatedAt: base})
			assert.True(t, errors.Is(err, ErrNotFound))

			for i, id := range []string{"av1", "av2"} {
				_, err := st.CreateAvatar(ctx, model.Avatar{
					ID: id, UserID: "u1", Name: "Avatar " + id, Method: model.MethodTextDescription,
					Style: "casual", Status: model.AvatarProcessing,
					CreatedAt: base.Add(time.Duration(i) * time.Hour), UpdatedAt: base,
				})
				require.NoError(t, err)
			}

			_, err = st.CreateVideo(ctx, model.Video{ID: "v0", UserID: "u1", AvatarID: "missing", Title: "t", Script: "s", Quality: model.QualityHD, Status: model.VideoQueued, CreatedAt: base, UpdatedAt: base})
			assert.True(t, errors.Is(err, ErrNotFound))

			for i, id := range []string{"v1", "v2", "v3"} {
				_, err := st.CreateVideo(ctx, model.Video{
					ID: id, UserID: "u1", AvatarID: "av1", Title: "Video " + id, Script: "hello there world",
					VoiceSettings: model.VoiceSettings{VoiceID: "voice-1", Speed: 1.25, Pitch: 0.75},
					Quality:       model.QualityHD, DurationSeconds: 30, CreditsCharged: 2, Status: model.VideoQueued,
					CreatedAt: base.Add(time.Duration(i) * time.Minute), UpdatedAt: base,
				})
				require.NoError(t, err)
			}

			avatars, err := st.ListAvatars(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, avatars, 2)
			assert.Equal(t, "av2", avatars[0].ID)
			assert.Equal(t, 3, avatars[1].VideoCount)

			av, err := st.GetAvatar(ctx, "av1")
			require.NoError(t, err)
			assert.Equal(t, 3, av.VideoCount)
			av.Status = model.AvatarCompleted
			av.AvatarURL = "https://cdn.example/av1.png"
			require.NoError(t, st.UpdateAvatar(ctx, av))

			videos, err := st.ListVideos(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, videos, 3)
			assert.Equal(t, "v3", videos[0].ID)
			assert.Equal(t, 1.25, videos[0].VoiceSettings.Speed)

			v, err := st.IncrementVideoViews(ctx, "v2")
			require.NoError(t, err)
			assert.Equal(t, 1, v.ViewCount)
			_, err = st.IncrementVideoViews(ctx, "nope")
			assert.True(t, errors.Is(err, ErrNotFound))

			v.Status = model.VideoCompleted
			require.NoError(t, st.UpdateVideo(ctx, v))
			v, err = st.GetVideo(ctx, "v2")
			require.NoError(t, err)
			assert.Equal(t, model.VideoCompleted, v.Status)
			assert.Equal(t, 1, v.ViewCount)

			stats, err := st.AccountStats(ctx, "u1", base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, model.AccountStats{
				TotalAvatars: 2, CompletedAvatars: 1, TotalVideos: 3, VideosToday: 2,
				TotalViews: 1, CreditsRemaining: 10,
			}, stats)
		})
	}
}

func TestJobsAndEvents(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			jobs := []model.Job{
				{ID: "j1", Kind: model.JobAvatar, UserID: "u1", AssetID: "a1", Status: model.JobQueued, MaxAttempt: 3, CreatedAt: base},
				{ID: "j2", Kind: model.JobVideo, UserID: "u1", AssetID: "v1", Status: model.JobCompleted, MaxAttempt: 3, CreatedAt: base.Add(time.Second)},
				{ID: "j3", Kind: model.JobVideo, UserID: "u1", AssetID: "v2", Status: model.JobProcessing, MaxAttempt: 3, CreatedAt: base.Add(2 * time.Second)},
			}
			for _, j := range jobs {
				_, err := st.CreateJob(ctx, j)
				require.NoError(t, err)
			}

			active, err := st.ListJobs(ctx, model.JobQueued, model.JobProcessing)
			require.NoError(t, err)
			require.Len(t, active, 2)
			assert.Equal(t, "j1", active[0].ID)
			assert.Equal(t, "j3", active[1].ID)

			all, err := st.ListJobs(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			j, err := st.GetJob(ctx, "j1")
			require.NoError(t, err)
			j.Status = model.JobProcessing
			j.Progress = 40
			j.StartedAt = base.Add(time.Minute)
			require.NoError(t, st.UpdateJob(ctx, j))
			j, err = st.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, 40, j.Progress)
			assert.True(t, j.StartedAt.Equal(base.Add(time.Minute)))
			assert.True(t, j.EndedAt.IsZero())

			for i := 0; i < 3; i++ {
				ev, err := st.AppendJobEvent(ctx, "j1", model.JobEvent{
					Type: model.EventJobProgress, TS: base, Payload: map[string]any{"progress": float64(i * 10)},
				})
				require.NoError(t, err)
				assert.Equal(t, int64(i+1), ev.Seq)
				assert.NotEmpty(t, ev.EventID)
			}
			_, err = st.AppendJobEvent(ctx, "missing", model.JobEvent{Type: model.EventJobCreated})
			assert.True(t, errors.Is(err, ErrNotFound))

			events, err := st.ListJobEventsFromSeq(ctx, "j1", 1)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, int64(2), events[0].Seq)
			assert.Equal(t, float64(10), events[0].Payload["progress"])

			_, err = st.ListJobEventsFromSeq(ctx, "missing", 0)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestInvoicesAndPlatformStats(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedAccount(t, st, "u1", "one@b.c", 3)
			seedAccount(t, st, "u2", "two@b.c", 150)
			_, err := st.UpdateSubscription(ctx, "u2", Subscription{
				Tier: model.TierPro, Status: model.StatusActive, Cycle: model.CycleMonthly, UpdatedAt: base,
			})
			require.NoError(t, err)
			seedAccount(t, st, "u3", "three@b.c", 0)
			_, err = st.UpdateSubscription(ctx, "u3", Subscription{
				Tier: model.TierFree, Status: model.StatusCancelled, Cycle: model.CycleMonthly, UpdatedAt: base,
			})
			require.NoError(t, err)

			for i, inv := range []model.Invoice{
				{ID: "inv-old", AccountID: "u2", Amount: 49, Currency: "USD", Status: model.InvoicePaid, CreatedAt: base.AddDate(0, -2, 0)},
				{ID: "inv-new", AccountID: "u2", Amount: 49, Currency: "USD", Status: model.InvoicePaid, CreatedAt: base,
					Items: []model.InvoiceItem{{Description: "Pro plan", Quantity: 1, UnitPrice: 49, TotalPrice: 49}}},
				{ID: "inv-pending", AccountID: "u2", Amount: 10, Currency: "USD", Status: model.InvoicePending, CreatedAt: base.Add(time.Hour)},
			} {
				_, err := st.CreateInvoice(ctx, inv)
				require.NoError(t, err, "invoice %d", i)
			}

			invoices, err := st.ListInvoices(ctx, "u2")
			require.NoError(t, err)
			require.Len(t, invoices, 3)
			assert.Equal(t, "inv-pending", invoices[0].ID)
			require.Len(t, invoices[1].Items, 1)
			assert.Equal(t, "Pro plan", invoices[1].Items[0].Description)

			stats, err := st.PlatformStats(ctx, base.AddDate(0, 0, -30))
			require.NoError(t, err)
			assert.Equal(t, 3, stats.TotalUsers)
			assert.Equal(t, 2, stats.ActiveUsers)
			assert.Equal(t, 49, stats.MonthlyRevenue)
			assert.Equal(t, 33.3, stats.ConversionRate)
		})
	}
}
