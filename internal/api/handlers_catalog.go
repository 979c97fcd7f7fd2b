package api

import (
	"net/http"
	"strings"
	"time"

	"omniavatar/server/internal/billing"
	"omniavatar/server/internal/model"

	"github.com/gin-gonic/gin"
)

const revenueWindow = 30 * 24 * time.Hour

func (s *Server) getCatalog(c *gin.Context) {
	savings := make(map[string]int, len(s.catalog.Plans))
	for _, p := range s.catalog.Plans {
		savings[p.ID] = billing.YearlySavings(p.MonthlyPrice, p.YearlyPrice)
	}
	writeData(c, http.StatusOK, "", gin.H{
		"plans":          s.catalog.Plans,
		"yearlySavings":  savings,
		"qualities":      s.catalog.Qualities,
		"voices":         s.catalog.Voices,
		"styles":         s.catalog.Styles,
		"creditPackages": s.catalog.CreditPackages,
	})
}

func (s *Server) dashboardStats(c *gin.Context) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.store.AccountStats(c.Request.Context(), accountFromContext(c).ID, today)
	if err != nil {
		writeInternal(c, "Failed to load stats")
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"stats": stats})
}

func (s *Server) adminStats(c *gin.Context) {
	stats, err := s.store.PlatformStats(c.Request.Context(), time.Now().UTC().Add(-revenueWindow))
	if err != nil {
		writeInternal(c, "Failed to load stats")
		return
	}
	writeData(c, http.StatusOK, "", gin.H{"stats": stats})
}

func (s *Server) adminUsers(c *gin.Context) {
	accounts, err := s.store.ListAccounts(c.Request.Context())
	if err != nil {
		writeInternal(c, "Failed to load users")
		return
	}
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))
	role := model.UserRole(c.Query("role"))
	users := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		if role != "" && a.Role != role {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(a.Email), search) &&
			!strings.Contains(strings.ToLower(a.FullName), search) {
			continue
		}
		users = append(users, a)
	}
	writeData(c, http.StatusOK, "", gin.H{"users": users, "total": len(users)})
}
