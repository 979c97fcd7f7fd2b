package model

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type SubscriptionTier string

const (
	TierFree     SubscriptionTier = "free"
	TierCreator  SubscriptionTier = "creator"
	TierPro      SubscriptionTier = "pro"
	TierBusiness SubscriptionTier = "business"
)

func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierCreator, TierPro, TierBusiness:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusPaused    SubscriptionStatus = "paused"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

type Account struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	FullName           string             `json:"fullName"`
	AvatarURL          string             `json:"avatarUrl,omitempty"`
	PasswordHash       string             `json:"-"`
	Role               UserRole           `json:"role"`
	SubscriptionTier   SubscriptionTier   `json:"subscriptionTier"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	BillingCycle       BillingCycle       `json:"billingCycle"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool               `json:"cancelAtPeriodEnd"`
	CreditsRemaining   int                `json:"creditsRemaining"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// CanGenerate reports whether the account may start paid generation.
func (a Account) CanGenerate() bool {
	return a.SubscriptionStatus != StatusCancelled
}

type AvatarMethod string

const (
	MethodPhotoUpload     AvatarMethod = "photo_upload"
	MethodTextDescription AvatarMethod = "text_description"
)

type AvatarStatus string

const (
	AvatarProcessing AvatarStatus = "processing"
	AvatarCompleted  AvatarStatus = "completed"
	AvatarFailed     AvatarStatus = "failed"
)

type Avatar struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Method       AvatarMethod `json:"avatarType"`
	SourceData   string       `json:"sourceData,omitempty"`
	AvatarURL    string       `json:"avatarUrl,omitempty"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	Style        string       `json:"style"`
	Gender       string       `json:"gender,omitempty"`
	AgeRange     string       `json:"ageRange,omitempty"`
	IsPublic     bool         `json:"isPublic"`
	Status       AvatarStatus `json:"generationStatus"`
	JobID        string       `json:"jobId,omitempty"`
	VideoCount   int          `json:"videoCount"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type VideoQuality string

const (
	QualitySD  VideoQuality = "SD"
	QualityHD  VideoQuality = "HD"
	QualityFHD VideoQuality = "FHD"
	Quality4K  VideoQuality = "4K"
)

type VideoStatus string

const (
	VideoQueued     VideoStatus = "queued"
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

type VoiceSettings struct {
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

type Video struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	AvatarID        string        `json:"avatarId"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Script          string        `json:"script"`
	VoiceSettings   VoiceSettings `json:"voiceSettings"`
	Quality         VideoQuality  `json:"videoQuality"`
	DurationSeconds int           `json:"durationSeconds"`
	CreditsCharged  int           `json:"creditsCharged"`
	Status          VideoStatus   `json:"generationStatus"`
	VideoURL        string        `json:"videoUrl,omitempty"`
	ThumbnailURL    string        `json:"thumbnailUrl,omitempty"`
	ViewCount       int           `json:"viewCount"`
	IsPublic        bool          `json:"isPublic"`
	JobID           string        `json:"jobId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

type PricingPlan struct {
	ID           string           `json:"id" yaml:"id"`
	Tier         SubscriptionTier `json:"tier" yaml:"tier"`
	Name         string           `json:"name" yaml:"name"`
	Description  string           `json:"description" yaml:"description"`
	MonthlyPrice int              `json:"monthlyPrice" yaml:"monthly_price"`
	YearlyPrice  int              `json:"yearlyPrice" yaml:"yearly_price"`
	Credits      int              `json:"credits" yaml:"credits"`
	Features     []string         `json:"features" yaml:"features"`
	Limitations  []string         `json:"limitations,omitempty" yaml:"limitations"`
	Popular      bool             `json:"popular" yaml:"popular"`
}

type QualityOption struct {
	ID          string       `json:"id" yaml:"id"`
	Quality     VideoQuality `json:"quality" yaml:"quality"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Resolution  string       `json:"resolution" yaml:"resolution"`
	Credits     int          `json:"credits" yaml:"credits"`
	MaxDuration int          `json:"maxDuration" yaml:"max_duration"`
}

type VoiceOption struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Gender     string `json:"gender" yaml:"gender"`
	Accent     string `json:"accent" yaml:"accent"`
	Language   string `json:"language" yaml:"language"`
	PreviewURL string `json:"previewUrl" yaml:"preview_url"`
}

type AvatarStyle struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description" yaml:"description"`
}

type CreditPackage struct {
	ID      string `json:"id" yaml:"id"`
	Credits int    `json:"credits" yaml:"credits"`
	Price   int    `json:"price" yaml:"price"`
}

type JobKind string

const (
	JobAvatar JobKind = "avatar"
	JobVideo  JobKind = "video"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCanceled
}

type Job struct {
	ID              string    `json:"id"`
	Kind            JobKind   `json:"kind"`
	UserID          string    `json:"userId"`
	AssetID         string    `json:"assetId"`
	Status          JobStatus `json:"status"`
	Progress        int       `json:"progress"`
	Stage           string    `json:"stage,omitempty"`
	Credits         int       `json:"credits"`
	CancelRequested bool      `json:"cancelRequested"`
	Attempt         int       `json:"attempt"`
	MaxAttempt      int       `json:"maxAttempt"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	Retryable       bool      `json:"retryable"`
	TraceID         string    `json:"traceId"`
	CreatedAt       time.Time `json:"createdAt"`
	StartedAt       time.Time `json:"startedAt,omitempty"`
	EndedAt         time.Time `json:"endedAt,omitempty"`
}

type JobEventType string

const (
	EventJobCreated   JobEventType = "job_created"
	EventJobStarted   JobEventType = "job_started"
	EventJobProgress  JobEventType = "job_progress"
	EventJobRetrying  JobEventType = "job_retrying"
	EventJobCompleted JobEventType = "job_completed"
	EventJobFailed    JobEventType = "job_failed"
	EventJobCanceled  JobEventType = "job_canceled"
)

type JobEvent struct {
	EventID string         `json:"eventId"`
	Seq     int64          `json:"seq"`
	TraceID string         `json:"traceId"`
	JobID   string         `json:"jobId"`
	AssetID string         `json:"assetId"`
	Type    JobEventType   `json:"type"`
	TS      time.Time      `json:"ts"`
	Payload map[string]any `json:"payload"`
}

type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePending InvoiceStatus = "pending"
	InvoiceFailed  InvoiceStatus = "failed"
)

type InvoiceItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int    `json:"unitPrice"`
	TotalPrice  int    `json:"totalPrice"`
}

type Invoice struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"accountId"`
	Amount      int           `json:"amount"`
	Currency    string        `json:"currency"`
	Status      InvoiceStatus `json:"status"`
	Description string        `json:"description"`
	Items       []InvoiceItem `json:"items"`
	CreatedAt   time.Time     `json:"date"`
}

type AccountStats struct {
	TotalAvatars     int `json:"totalAvatars"`
	CompletedAvatars int `json:"completedAvatars"`
	TotalVideos      int `json:"totalVideos"`
	VideosToday      int `json:"videosToday"`
	TotalViews       int `json:"totalViews"`
	CreditsRemaining int `json:"creditsRemaining"`
	ProcessingQueue  int `json:"processingQueue"`
}

type PlatformStats struct {
	TotalUsers      int     `json:"totalUsers"`
	ActiveUsers     int     `json:"activeUsers"`
	TotalAvatars    int     `json:"totalAvatars"`
	TotalVideos     int     `json:"totalVideos"`
	MonthlyRevenue  int     `json:"monthlyRevenue"`
	ConversionRate  float64 `json:"conversionRate"`
	ProcessingQueue int     `json:"processingQueue"`
}
