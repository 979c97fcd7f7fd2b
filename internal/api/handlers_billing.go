package api

import (
	"errors"
	"io"
	"net/http"

	"omniavatar/server/internal/billing"
	"omniavatar/server/internal/model"

	"github.com/gin-gonic/gin"
)

func writeBillingErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		writeError(c, http.StatusBadRequest, "UNKNOWN_PLAN", "Unknown plan")
	case errors.Is(err, billing.ErrUnknownPackage):
		writeError(c, http.StatusBadRequest, "UNKNOWN_PACKAGE", "Unknown credit package")
	case errors.Is(err, billing.ErrInvalidCycle):
		writeError(c, http.StatusBadRequest, "INVALID_CYCLE", "Billing cycle must be monthly or yearly")
	case errors.Is(err, billing.ErrAlreadyCanceled):
		writeError(c, http.StatusConflict, "ALREADY_CANCELLED", "Subscription is already cancelled")
	default:
		writeInternal(c, "Billing request failed")
	}
}

func (s *Server) getSubscription(c *gin.Context) {
	writeData(c, http.StatusOK, "", gin.H{
		"subscription": s.billing.Subscription(accountFromContext(c)),
	})
}

type planRequest struct {
	PlanID       string             `json:"planId" binding:"required,tier"`
	BillingCycle model.BillingCycle `json:"billingCycle" binding:"required,cycle"`
}

func (s *Server) createCheckout(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", bindMessage(err, "Invalid checkout request"))
		return
	}
	sess, err := s.billing.Checkout(c.Request.Context(), req.PlanID, req.BillingCycle)
	if err != nil {
		writeBillingErr(c, err)
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"url": sess.URL, "sessionId": sess.ID})
}

func (s *Server) changePlan(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", bindMessage(err, "Invalid plan change"))
		return
	}
	account, err := s.billing.ChangePlan(c.Request.Context(), accountFromContext(c).ID, req.PlanID, req.BillingCycle)
	if err != nil {
		writeBillingErr(c, err)
		return
	}
	writeData(c, http.StatusOK, "Subscription updated", gin.H{
		"user":         account,
		"subscription": s.billing.Subscription(account),
	})
}

type cancelRequest struct {
	AtPeriodEnd *bool `json:"atPeriodEnd"`
}

func (s *Server) cancelSubscription(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req cancelRequest
	// An empty body cancels at the end of the period.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid cancel request")
		return
	}
	atPeriodEnd := req.AtPeriodEnd == nil || *req.AtPeriodEnd
	account, err := s.billing.Cancel(c.Request.Context(), accountFromContext(c).ID, atPeriodEnd)
	if err != nil {
		writeBillingErr(c, err)
		return
	}
	writeData(c, http.StatusOK, "Subscription cancelled", gin.H{
		"user":         account,
		"subscription": s.billing.Subscription(account),
	})
}

type purchaseRequest struct {
	PackageID string `json:"packageId" binding:"required"`
}

func (s *Server) purchaseCredits(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", bindMessage(err, "Invalid purchase request"))
		return
	}
	account, invoice, err := s.billing.PurchaseCredits(c.Request.Context(), accountFromContext(c).ID, req.PackageID)
	if err != nil {
		writeBillingErr(c, err)
		return
	}
	writeData(c, http.StatusOK, "Credits added", gin.H{
		"user":    account,
		"invoice": invoice,
	})
}

func (s *Server) listInvoices(c *gin.Context) {
	invoices, err := s.billing.Invoices(c.Request.Context(), accountFromContext(c).ID)
	if err != nil {
		writeInternal(c, "Failed to list invoices")
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"invoices": invoices})
}
