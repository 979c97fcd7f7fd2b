package billing

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"omniavatar/server/internal/catalog"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, string) {
	t.Helper()
	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, catalog.Default(), NewMockProvider("https://checkout.example.com/", "", logger), logger)

	now := time.Now().UTC()
	acct, err := st.CreateAccount(context.Background(), model.Account{
		ID:                 "acct-1",
		Email:              "ada@example.com",
		FullName:           "Ada",
		Role:               model.RoleUser,
		SubscriptionTier:   model.TierFree,
		SubscriptionStatus: model.StatusActive,
		CreditsRemaining:   3,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	require.NoError(t, err)
	return svc, st, acct.ID
}

func TestYearlySavings(t *testing.T) {
	tests := []struct {
		monthly, yearly, want int
	}{
		{19, 190, 17},
		{49, 490, 17},
		{99, 990, 17},
		{0, 0, 0},
		{10, 120, 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, YearlySavings(tc.monthly, tc.yearly), "monthly=%d yearly=%d", tc.monthly, tc.yearly)
	}
}

func TestCheckoutURL(t *testing.T) {
	svc, _, _ := newTestService(t)

	sess, err := svc.Checkout(context.Background(), "pro", model.CycleYearly)
	require.NoError(t, err)
	assert.Equal(t, "session_mock_pro_yearly", sess.ID)
	assert.Equal(t, "https://checkout.example.com/session_mock_pro_yearly", sess.URL)

	_, err = svc.Checkout(context.Background(), "platinum", model.CycleMonthly)
	assert.ErrorIs(t, err, ErrUnknownPlan)
	_, err = svc.Checkout(context.Background(), "pro", model.BillingCycle("weekly"))
	assert.ErrorIs(t, err, ErrInvalidCycle)
}

func TestChangePlanResetsCreditsAndRecordsInvoice(t *testing.T) {
	svc, st, id := newTestService(t)
	ctx := context.Background()

	acct, err := svc.ChangePlan(ctx, id, "pro", model.CycleMonthly)
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, acct.SubscriptionTier)
	assert.Equal(t, 150, acct.CreditsRemaining)
	assert.True(t, acct.CurrentPeriodEnd.After(time.Now()))

	stored, err := st.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, acct.CreditsRemaining, stored.CreditsRemaining)

	invoices, err := svc.Invoices(ctx, id)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, 49, invoices[0].Amount)
	assert.Equal(t, model.InvoicePaid, invoices[0].Status)
	assert.Equal(t, "Pro Plan - Monthly", invoices[0].Description)

	sub := svc.Subscription(stored)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, 49, sub.Price)
	assert.Equal(t, 0, sub.CreditsUsed)
}

func TestChangeToFreePlanHasNoInvoice(t *testing.T) {
	svc, _, id := newTestService(t)
	_, err := svc.ChangePlan(context.Background(), id, "free", model.CycleMonthly)
	require.NoError(t, err)

	invoices, err := svc.Invoices(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestCancel(t *testing.T) {
	svc, _, id := newTestService(t)
	ctx := context.Background()

	acct, err := svc.Cancel(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, acct.SubscriptionStatus)
	assert.True(t, acct.CancelAtPeriodEnd)
	assert.True(t, acct.CanGenerate())

	acct, err = svc.Cancel(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, acct.SubscriptionStatus)
	assert.False(t, acct.CanGenerate())

	_, err = svc.Cancel(ctx, id, false)
	assert.ErrorIs(t, err, ErrAlreadyCanceled)

	// Picking a plan again reactivates.
	acct, err = svc.ChangePlan(ctx, id, "creator", model.CycleYearly)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, acct.SubscriptionStatus)
}

func TestPurchaseCredits(t *testing.T) {
	svc, _, id := newTestService(t)
	ctx := context.Background()

	acct, inv, err := svc.PurchaseCredits(ctx, id, "medium")
	require.NoError(t, err)
	assert.Equal(t, 53, acct.CreditsRemaining)
	assert.Equal(t, 18, inv.Amount)
	assert.True(t, strings.HasPrefix(inv.ID, "inv_"))

	_, _, err = svc.PurchaseCredits(ctx, id, "jumbo")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	_, _, err = svc.PurchaseCredits(ctx, "missing", "small")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "$49.00", FormatPrice(49))
}

// refundingStore lands a credit refund between the service's account read
// and its write.
type refundingStore struct {
	store.Store
	refunded bool
}

func (s *refundingStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	a, err := s.Store.GetAccount(ctx, id)
	if err == nil && !s.refunded {
		s.refunded = true
		if _, err := s.Store.AdjustCredits(ctx, id, 5); err != nil {
			return model.Account{}, err
		}
	}
	return a, err
}

func TestCancelKeepsConcurrentRefund(t *testing.T) {
	for _, atPeriodEnd := range []bool{true, false} {
		_, st, id := newTestService(t)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		rs := &refundingStore{Store: st}
		svc := NewService(rs, catalog.Default(), NewMockProvider("https://checkout.example.com", "", logger), logger)

		acct, err := svc.Cancel(context.Background(), id, atPeriodEnd)
		require.NoError(t, err)
		require.True(t, rs.refunded)
		assert.Equal(t, 8, acct.CreditsRemaining, "atPeriodEnd=%v", atPeriodEnd)

		stored, err := st.GetAccount(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 8, stored.CreditsRemaining)
		assert.Equal(t, atPeriodEnd, stored.CancelAtPeriodEnd)
	}
}
