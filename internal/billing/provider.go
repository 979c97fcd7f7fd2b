package billing

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"omniavatar/server/internal/model"
)

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider is the hosted payment backend that takes the customer through checkout.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, planID string, cycle model.BillingCycle) (CheckoutSession, error)
}

// MockProvider hands out deterministic checkout links and never calls out.
type MockProvider struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func NewMockProvider(baseURL, apiKey string, logger *slog.Logger) *MockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, planID string, cycle model.BillingCycle) (CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutSession{}, err
	}
	id := "session_mock_" + planID + "_" + string(cycle)
	m.logger.Info("checkout session created",
		"plan_id", planID,
		"billing_cycle", cycle,
		"api_key_configured", m.apiKey != "",
	)
	return CheckoutSession{ID: id, URL: m.baseURL + "/" + url.PathEscape(id)}, nil
}
