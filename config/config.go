package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"outreach/models"
)

var (
	DB        *gorm.DB
	Redis     *redis.Client
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"-"`
}

type MailServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Encryption string `json:"encryption"`
	Username   string `json:"username"`
	Password   string `json:"-"`
}

type DispatchConfig struct {
	Mode               string   `json:"mode"`
	GlobalCC           []string `json:"global_cc"`
	DelayDays          int      `json:"delay_days"`
	DailySendLimit     int      `json:"daily_send_limit"`
	DefaultStepCeiling int      `json:"default_step_ceiling"`
	DemoEmailMarker    string   `json:"demo_email_marker"`
	SignatureHTML      string   `json:"-"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
}

type Config struct {
	Environment   string `json:"environment"`
	ServerPort    string `json:"server_port"`
	EncryptionKey string `json:"-"`
	CORSOrigins   []string

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis RedisConfig `json:"redis"`

	// postgres or memory
	StoreBackend      string        `json:"store_backend"`
	StrictRowVersions bool          `json:"strict_row_versions"`
	SequencesFile     string        `json:"sequences_file"`
	BaselineTTL       time.Duration `json:"baseline_ttl"`

	Dispatch DispatchConfig       `json:"dispatch"`
	Sender   models.SenderProfile `json:"sender"`

	// password or oauth
	MailAuth      string           `json:"mail_auth"`
	Google        OAuthConfig      `json:"google"`
	SMTP          MailServerConfig `json:"smtp"`
	IMAP          MailServerConfig `json:"imap"`
	SentMailbox   string           `json:"sent_mailbox"`
	DraftsMailbox string           `json:"drafts_mailbox"`
	SaveSentCopy  bool             `json:"save_sent_copy"`

	ThreadWorkerInterval time.Duration `json:"thread_worker_interval"`
	ThreadWorkerBudget   time.Duration `json:"thread_worker_budget"`

	SentryDSN string `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		ServerPort:    getEnv("SERVER_PORT", "5000"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		CORSOrigins:   getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "outreach"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		StrictRowVersions: getEnvAsBool("STRICT_ROW_VERSIONS", false),
		SequencesFile:     getEnv("SEQUENCES_FILE", ""),
		BaselineTTL:       getEnvAsDuration("BASELINE_TTL", 30*time.Minute),

		Dispatch: DispatchConfig{
			Mode:               strings.ToLower(getEnv("DISPATCH_MODE", "draft")),
			GlobalCC:           getEnvAsList("GLOBAL_CC", nil),
			DelayDays:          getEnvAsInt("DELAY_DAYS", 3),
			DailySendLimit:     getEnvAsInt("DAILY_SEND_LIMIT", 100),
			DefaultStepCeiling: getEnvAsInt("DEFAULT_STEP_CEILING", 3),
			DemoEmailMarker:    getEnv("DEMO_EMAIL_MARKER", "@demo.example"),
			SignatureHTML:      getEnv("SIGNATURE_HTML", ""),
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_DISPATCH", 10),
		},
		Sender: models.SenderProfile{
			Name:    getEnv("SENDER_NAME", ""),
			Email:   getEnv("SENDER_EMAIL", ""),
			Title:   getEnv("SENDER_TITLE", ""),
			Company: getEnv("SENDER_COMPANY", ""),
			Phone:   getEnv("SENDER_PHONE", ""),
		},

		MailAuth: strings.ToLower(getEnv("MAIL_AUTH", "password")),
		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),
		},
		SMTP: MailServerConfig{
			Host:       getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Encryption: getEnv("SMTP_ENCRYPTION", "STARTTLS"),
			Username:   getEnv("SMTP_USERNAME", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
		},
		IMAP: MailServerConfig{
			Host:       getEnv("IMAP_HOST", "imap.gmail.com"),
			Port:       getEnvAsInt("IMAP_PORT", 993),
			Encryption: getEnv("IMAP_ENCRYPTION", "SSL"),
			Username:   getEnv("IMAP_USERNAME", ""),
			Password:   getEnv("IMAP_PASSWORD", ""),
		},
		SentMailbox:   getEnv("IMAP_SENT_MAILBOX", "[Gmail]/Sent Mail"),
		DraftsMailbox: getEnv("IMAP_DRAFTS_MAILBOX", "[Gmail]/Drafts"),
		SaveSentCopy:  getEnvAsBool("SAVE_SENT_COPY", false),

		ThreadWorkerInterval: getEnvAsDuration("THREAD_WORKER_INTERVAL", 30*time.Minute),
		ThreadWorkerBudget:   getEnvAsDuration("THREAD_WORKER_BUDGET", 5*time.Minute),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	if AppConfig.SMTP.Username == "" {
		AppConfig.SMTP.Username = AppConfig.Sender.Email
	}
	if AppConfig.IMAP.Username == "" {
		AppConfig.IMAP.Username = AppConfig.SMTP.Username
	}
	if AppConfig.IMAP.Password == "" {
		AppConfig.IMAP.Password = AppConfig.SMTP.Password
	}

	if err := AppConfig.Validate(); err != nil {
		return err
	}

	logConfig()
	return nil
}

// Validate checks required values and enumerations
func (c Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	switch c.StoreBackend {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend)
	}
	switch c.Dispatch.Mode {
	case "send", "draft":
	default:
		return fmt.Errorf("DISPATCH_MODE must be send or draft, got %q", c.Dispatch.Mode)
	}
	if c.Sender.Email == "" {
		return fmt.Errorf("SENDER_EMAIL is required")
	}
	if err := checkmail.ValidateFormat(c.Sender.Email); err != nil {
		return fmt.Errorf("SENDER_EMAIL is invalid: %w", err)
	}
	for _, cc := range c.Dispatch.GlobalCC {
		if err := checkmail.ValidateFormat(cc); err != nil {
			return fmt.Errorf("GLOBAL_CC contains an invalid address %q: %w", cc, err)
		}
	}
	if c.Dispatch.DailySendLimit < 0 {
		return fmt.Errorf("DAILY_SEND_LIMIT cannot be negative")
	}
	if c.Dispatch.DefaultStepCeiling < 1 || c.Dispatch.DefaultStepCeiling > models.MaxSequenceSteps {
		return fmt.Errorf("DEFAULT_STEP_CEILING must be between 1 and %d", models.MaxSequenceSteps)
	}
	switch c.MailAuth {
	case "password":
	case "oauth":
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" || c.Google.RefreshToken == "" {
			return fmt.Errorf("Google OAuth credentials are required when MAIL_AUTH=oauth")
		}
	default:
		return fmt.Errorf("MAIL_AUTH must be password or oauth, got %q", c.MailAuth)
	}
	return nil
}

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	logrus.Infof("Using connection string: %s", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("✅ Successfully connected to the database")
	logrus.Info("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("✅ Database migration completed")
	return nil
}

// ConnectRedis opens the shared client when Redis is enabled
func ConnectRedis(ctx context.Context) error {
	if !AppConfig.Redis.Enabled {
		logrus.Warn("Redis disabled, using in-process baselines, quota and rate limits")
		return nil
	}
	Redis = redis.NewClient(&redis.Options{
		Addr:     AppConfig.Redis.Address,
		Password: AppConfig.Redis.Password,
		DB:       AppConfig.Redis.DB,
	})
	if err := Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	logrus.Infof("✅ Connected to Redis at %s", AppConfig.Redis.Address)
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":   AppConfig.Environment,
		"port":          AppConfig.ServerPort,
		"store":         AppConfig.StoreBackend,
		"redis":         AppConfig.Redis.Enabled,
		"dispatch_mode": AppConfig.Dispatch.Mode,
		"daily_limit":   AppConfig.Dispatch.DailySendLimit,
		"mail_auth":     AppConfig.MailAuth,
		"sender":        AppConfig.Sender.Email,
	}).Info("🔧 Loaded configuration")
	if AppConfig.StoreBackend == "postgres" {
		logrus.Infof("Database: %s@%s:%s/%s",
			AppConfig.DBUser,
			AppConfig.DBHost,
			AppConfig.DBPort,
			AppConfig.DBName)
	}
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ContactRow{},
		&models.Template{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceAttachment{},
	)
}
