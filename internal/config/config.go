package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	JWTSecret  string        `envconfig:"JWT_SECRET" default:"dev-change-me"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"168h"`

	// DatabasePath selects the sqlite store; empty keeps everything in memory.
	DatabasePath string `envconfig:"DATABASE_PATH"`

	MaxConcurrentJobs int `envconfig:"MAX_CONCURRENT_JOBS" default:"20"`
	MaxUserJobs       int `envconfig:"MAX_USER_JOBS" default:"2"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"local"`
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"/uploads"`
	S3Bucket      string `envconfig:"S3_BUCKET"`
	S3Region      string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint    string `envconfig:"S3_ENDPOINT"`
	S3AccessKey   string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey   string `envconfig:"S3_SECRET_KEY"`

	PaymentAPIKey   string `envconfig:"DODOPAYMENTS_API_KEY"`
	CheckoutBaseURL string `envconfig:"CHECKOUT_BASE_URL" default:"https://checkout.dodopayments.com"`

	CORSOrigins   []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
	AuthRateLimit float64  `envconfig:"AUTH_RATE_LIMIT" default:"5"`
	AuthRateBurst int      `envconfig:"AUTH_RATE_BURST" default:"10"`

	DemoEmail    string `envconfig:"DEMO_EMAIL" default:"demo@omniavatar.local"`
	DemoPassword string `envconfig:"DEMO_PASSWORD" default:"demo123456"`
	// AdminEmail seeds an admin account when set together with AdminPassword.
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	MockRenderStep  time.Duration `envconfig:"MOCK_RENDER_STEP" default:"2s"`
	MockFailureRate float64       `envconfig:"MOCK_FAILURE_RATE" default:"0"`
}

// Load reads an optional .env file and then the OMNIAVATAR_* environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// A missing .env is normal outside local development.
		_ = godotenv.Load(f)
	}
	var cfg Config
	if err := envconfig.Process("omniavatar", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 20
	}
	if cfg.MaxUserJobs < 1 {
		cfg.MaxUserJobs = 2
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// LogFormat is json in production and text elsewhere.
func (c Config) LogFormat() string {
	if c.Production() {
		return "json"
	}
	return "text"
}

// Secure reports whether cookies must carry the Secure attribute.
func (c Config) Secure() bool {
	return c.Production()
}
