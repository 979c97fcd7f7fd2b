// Package api exposes the OmniAvatar HTTP interface on gin.
package api

import (
	"log/slog"
	"net/http"

	"omniavatar/server/internal/auth"
	"omniavatar/server/internal/billing"
	"omniavatar/server/internal/catalog"
	"omniavatar/server/internal/events"
	"omniavatar/server/internal/job"
	"omniavatar/server/internal/storage"
	"omniavatar/server/internal/store"

	"github.com/gin-gonic/gin"
)

type Options struct {
	// SecureCookies sets the Secure attribute on the auth cookie.
	SecureCookies bool
	AuthRateLimit float64
	AuthRateBurst int
	// UploadDir is served under UploadPath when blobs live on local disk.
	UploadDir  string
	UploadPath string
	// OriginPatterns are the hosts allowed to open job websockets.
	OriginPatterns []string
}

type Deps struct {
	Auth    *auth.Service
	Store   store.Store
	Jobs    *job.Service
	Hub     *events.Hub
	Blobs   storage.BlobStore
	Billing *billing.Service
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

type Server struct {
	auth    *auth.Service
	store   store.Store
	jobs    *job.Service
	hub     *events.Hub
	blobs   storage.BlobStore
	billing *billing.Service
	catalog *catalog.Catalog
	log     *slog.Logger
	opts    Options
}

func NewServer(deps Deps, opts Options) *Server {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		auth:    deps.Auth,
		store:   deps.Store,
		jobs:    deps.Jobs,
		hub:     deps.Hub,
		blobs:   deps.Blobs,
		billing: deps.Billing,
		catalog: deps.Catalog,
		log:     deps.Logger,
		opts:    opts,
	}
}

func (s *Server) Router() *gin.Engine {
	registerValidators(s.catalog)

	r := gin.New()
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))
	r.Use(RecoveryMiddleware(s.log))
	r.MaxMultipartMemory = 12 << 20

	if s.opts.UploadDir != "" && s.opts.UploadPath != "" {
		r.Static(s.opts.UploadPath, s.opts.UploadDir)
	}

	api := r.Group("/api")
	api.GET("/healthz", func(c *gin.Context) {
		writeData(c, http.StatusOK, "", gin.H{"status": "ok"})
	})
	api.GET("/catalog", s.getCatalog)

	authGroup := api.Group("/auth")
	authGroup.Use(RateLimitMiddleware(s.opts.AuthRateLimit, s.opts.AuthRateBurst))
	{
		authGroup.POST("/signin", s.signIn)
		authGroup.POST("/signup", s.signUp)
		authGroup.POST("/signout", s.signOut)
	}

	authed := api.Group("")
	authed.Use(AuthMiddleware(s.auth))
	{
		authed.GET("/auth/me", s.me)

		authed.POST("/avatars/generate", s.generateAvatar)
		authed.GET("/avatars", s.listAvatars)
		authed.GET("/avatars/:avatar_id", s.getAvatar)
		authed.GET("/avatars/:avatar_id/status", s.avatarStatus)

		authed.POST("/videos/generate", s.generateVideo)
		authed.POST("/videos/estimate", s.estimateVideo)
		authed.GET("/videos", s.listVideos)
		authed.GET("/videos/:video_id", s.getVideo)
		authed.GET("/videos/:video_id/status", s.videoStatus)
		authed.POST("/videos/:video_id/view", s.recordView)

		authed.GET("/jobs/:job_id", s.getJob)
		authed.POST("/jobs/:job_id/cancel", s.cancelJob)
		authed.POST("/jobs/:job_id/retry", s.retryJob)
		authed.GET("/jobs/:job_id/events", s.streamJobEvents)
		authed.GET("/jobs/:job_id/ws", s.jobSocket)

		authed.GET("/billing/subscription", s.getSubscription)
		authed.POST("/billing/checkout", s.createCheckout)
		authed.POST("/billing/subscription/change", s.changePlan)
		authed.POST("/billing/subscription/cancel", s.cancelSubscription)
		authed.POST("/billing/credits", s.purchaseCredits)
		authed.GET("/billing/invoices", s.listInvoices)

		authed.GET("/dashboard/stats", s.dashboardStats)
		authed.GET("/admin/stats", AdminOnly(), s.adminStats)
		authed.GET("/admin/users", AdminOnly(), s.adminUsers)
	}

	return r
}
