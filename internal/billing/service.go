// Package billing manages subscription plans, credit purchases and invoices.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"omniavatar/server/internal/catalog"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrUnknownPackage  = errors.New("unknown credit package")
	ErrInvalidCycle    = errors.New("invalid billing cycle")
	ErrAlreadyCanceled = errors.New("subscription already cancelled")
)

const (
	currency     = "USD"
	periodLength = 30 * 24 * time.Hour
)

// Subscription is the billing view of an account.
type Subscription struct {
	ID                 string                   `json:"id"`
	PlanID             string                   `json:"planId"`
	PlanName           string                   `json:"planName"`
	Status             model.SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time                `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time                `json:"currentPeriodEnd"`
	Price              int                      `json:"price"`
	Currency           string                   `json:"currency"`
	BillingCycle       model.BillingCycle       `json:"billingCycle"`
	CancelAtPeriodEnd  bool                     `json:"cancelAtPeriodEnd"`
	CreditsIncluded    int                      `json:"creditsIncluded"`
	CreditsUsed        int                      `json:"creditsUsed"`
	CreditsRemaining   int                      `json:"creditsRemaining"`
}

type Service struct {
	store    store.Store
	catalog  *catalog.Catalog
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st store.Store, cat *catalog.Catalog, prov Provider, logger *slog.Logger) *Service {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		catalog:  cat,
		provider: prov,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Subscription(account model.Account) Subscription {
	plan, ok := s.catalog.PlanForTier(account.SubscriptionTier)
	if !ok {
		plan = model.PricingPlan{ID: string(account.SubscriptionTier), Name: string(account.SubscriptionTier)}
	}
	cycle := account.BillingCycle
	if !cycle.Valid() {
		cycle = model.CycleMonthly
	}
	end := account.CurrentPeriodEnd
	if end.IsZero() {
		end = account.CreatedAt.Add(periodFor(cycle))
	}
	used := plan.Credits - account.CreditsRemaining
	if used < 0 {
		used = 0
	}
	return Subscription{
		ID:                 "sub_" + account.ID,
		PlanID:             plan.ID,
		PlanName:           plan.Name,
		Status:             account.SubscriptionStatus,
		CurrentPeriodStart: end.Add(-periodFor(cycle)),
		CurrentPeriodEnd:   end,
		Price:              planPrice(plan, cycle),
		Currency:           currency,
		BillingCycle:       cycle,
		CancelAtPeriodEnd:  account.CancelAtPeriodEnd,
		CreditsIncluded:    plan.Credits,
		CreditsUsed:        used,
		CreditsRemaining:   account.CreditsRemaining,
	}
}

// Checkout opens a hosted checkout session for a paid plan.
func (s *Service) Checkout(ctx context.Context, planID string, cycle model.BillingCycle) (CheckoutSession, error) {
	if !cycle.Valid() {
		return CheckoutSession{}, ErrInvalidCycle
	}
	if _, ok := s.catalog.Plan(planID); !ok {
		return CheckoutSession{}, ErrUnknownPlan
	}
	sess, err := s.provider.CreateCheckoutSession(ctx, planID, cycle)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

// ChangePlan moves the account onto planID, starts a new period with the
// plan's credit allotment and records the charge.
func (s *Service) ChangePlan(ctx context.Context, accountID, planID string, cycle model.BillingCycle) (model.Account, error) {
	if !cycle.Valid() {
		return model.Account{}, ErrInvalidCycle
	}
	plan, ok := s.catalog.Plan(planID)
	if !ok {
		return model.Account{}, ErrUnknownPlan
	}
	now := s.now().UTC()
	credits := plan.Credits
	account, err := s.store.UpdateSubscription(ctx, accountID, store.Subscription{
		Tier:             plan.Tier,
		Status:           model.StatusActive,
		Cycle:            cycle,
		CurrentPeriodEnd: now.Add(periodFor(cycle)),
		Credits:          &credits,
		UpdatedAt:        now,
	})
	if err != nil {
		return model.Account{}, err
	}

	if price := planPrice(plan, cycle); price > 0 {
		desc := fmt.Sprintf("%s Plan - %s", plan.Name, cycleLabel(cycle))
		if _, err := s.record(ctx, accountID, desc, model.InvoiceItem{
			Description: desc + " Subscription",
			Quantity:    1,
			UnitPrice:   price,
			TotalPrice:  price,
		}); err != nil {
			return model.Account{}, err
		}
	}
	s.logger.Info("plan changed", "account_id", accountID, "plan_id", plan.ID, "billing_cycle", cycle)
	return account, nil
}

// Cancel ends the subscription now, or flags it to lapse when the current
// period ends.
func (s *Service) Cancel(ctx context.Context, accountID string, atPeriodEnd bool) (model.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	if account.SubscriptionStatus == model.StatusCancelled {
		return model.Account{}, ErrAlreadyCanceled
	}
	sub := store.Subscription{
		Tier:              account.SubscriptionTier,
		Status:            account.SubscriptionStatus,
		Cycle:             account.BillingCycle,
		CurrentPeriodEnd:  account.CurrentPeriodEnd,
		CancelAtPeriodEnd: true,
		UpdatedAt:         s.now().UTC(),
	}
	if !atPeriodEnd {
		sub.Status = model.StatusCancelled
		sub.CancelAtPeriodEnd = false
	}
	account, err = s.store.UpdateSubscription(ctx, accountID, sub)
	if err != nil {
		return model.Account{}, err
	}
	s.logger.Info("subscription cancelled", "account_id", accountID, "at_period_end", atPeriodEnd)
	return account, nil
}

func (s *Service) PurchaseCredits(ctx context.Context, accountID, packageID string) (model.Account, model.Invoice, error) {
	pkg, ok := s.catalog.CreditPackage(packageID)
	if !ok {
		return model.Account{}, model.Invoice{}, ErrUnknownPackage
	}
	account, err := s.store.AdjustCredits(ctx, accountID, pkg.Credits)
	if err != nil {
		return model.Account{}, model.Invoice{}, err
	}
	desc := fmt.Sprintf("%d Credits", pkg.Credits)
	inv, err := s.record(ctx, accountID, desc, model.InvoiceItem{
		Description: desc + " Package",
		Quantity:    1,
		UnitPrice:   pkg.Price,
		TotalPrice:  pkg.Price,
	})
	if err != nil {
		return model.Account{}, model.Invoice{}, err
	}
	s.logger.Info("credits purchased", "account_id", accountID, "package_id", pkg.ID, "credits", pkg.Credits)
	return account, inv, nil
}

func (s *Service) Invoices(ctx context.Context, accountID string) ([]model.Invoice, error) {
	return s.store.ListInvoices(ctx, accountID)
}

func (s *Service) record(ctx context.Context, accountID, desc string, items ...model.InvoiceItem) (model.Invoice, error) {
	total := 0
	for _, it := range items {
		total += it.TotalPrice
	}
	inv, err := s.store.CreateInvoice(ctx, model.Invoice{
		ID:          "inv_" + uuid.NewString(),
		AccountID:   accountID,
		Amount:      total,
		Currency:    currency,
		Status:      model.InvoicePaid,
		Description: desc,
		Items:       items,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return model.Invoice{}, fmt.Errorf("record invoice: %w", err)
	}
	return inv, nil
}

// YearlySavings is the percentage saved by paying yearly instead of twelve
// monthly payments.
func YearlySavings(monthly, yearly int) int {
	total := monthly * 12
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(total-yearly) / float64(total) * 100))
}

func FormatPrice(amount int) string {
	return fmt.Sprintf("$%d.00", amount)
}

func planPrice(p model.PricingPlan, cycle model.BillingCycle) int {
	if cycle == model.CycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

func periodFor(cycle model.BillingCycle) time.Duration {
	if cycle == model.CycleYearly {
		return 365 * 24 * time.Hour
	}
	return periodLength
}

func cycleLabel(cycle model.BillingCycle) string {
	if cycle == model.CycleYearly {
		return "Yearly"
	}
	return "Monthly"
}
