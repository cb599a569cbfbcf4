package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "chatdesk-dev-secret"

type Config struct {
	// App
	Env string // dev / staging / prod

	// HTTP
	HTTPAddr         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownWait     time.Duration

	// Stores
	StoreDriver string // postgres / mongo / memory
	DBAddr      string
	DBDebug     bool
	MongoURI    string
	MongoDB     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Mail
	MailTransport string // smtp / rabbitmq / log

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTimeout  time.Duration
	SMTPInsecure bool

	RabbitURL      string
	RabbitExchange string
	RabbitQueue    string
	RabbitPrefetch int

	// Mail worker
	MailerSender       string // smtp / fake
	FakeFailMode       string
	MailMaxAttempts    int
	MailRetryDelay     time.Duration
	MailIdempotencyTTL time.Duration

	// Auth / Security
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration
	OTPTTL         time.Duration
	OTPMaxAttempts int
	ResetGrantTTL  time.Duration
	BcryptCost     int
	OrgEmailDomain string
	LockTTL        time.Duration
	LockWait       time.Duration

	// Background jobs
	ReaperSpec string

	// Rate limiting, per client IP and route group
	RLEnabled      bool
	RLIssueLimit   int
	RLIssueWindow  time.Duration
	RLLoginLimit   int
	RLLoginWindow  time.Duration
	RLVerifyLimit  int
	RLVerifyWindow time.Duration

	// Dev seed; empty disables it
	SeedPassword string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      strings.ToLower(getEnv("ENV", "dev")),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"HTTP_READ_TIMEOUT", 10 * time.Second, &cfg.HTTPReadTimeout},
		{"HTTP_WRITE_TIMEOUT", 30 * time.Second, &cfg.HTTPWriteTimeout},
		{"HTTP_IDLE_TIMEOUT", time.Minute, &cfg.HTTPIdleTimeout},
		{"SHUTDOWN_WAIT", 10 * time.Second, &cfg.ShutdownWait},
		{"SMTP_TIMEOUT", 10 * time.Second, &cfg.SMTPTimeout},
		{"MAIL_RETRY_DELAY", 10 * time.Second, &cfg.MailRetryDelay},
		{"MAIL_IDEMPOTENCY_TTL", 24 * time.Hour, &cfg.MailIdempotencyTTL},
		{"ACCESS_TOKEN_TTL", 15 * time.Minute, &cfg.AccessTokenTTL},
		{"OTP_TTL", 10 * time.Minute, &cfg.OTPTTL},
		{"RESET_GRANT_TTL", 10 * time.Minute, &cfg.ResetGrantTTL},
		{"LOCK_TTL", 30 * time.Second, &cfg.LockTTL},
		{"LOCK_WAIT", 2 * time.Second, &cfg.LockWait},
		{"RL_ISSUE_WINDOW", 10 * time.Minute, &cfg.RLIssueWindow},
		{"RL_LOGIN_WINDOW", time.Minute, &cfg.RLLoginWindow},
		{"RL_VERIFY_WINDOW", 10 * time.Minute, &cfg.RLVerifyWindow},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"REDIS_DB", 0, &cfg.RedisDB},
		{"SMTP_PORT", 587, &cfg.SMTPPort},
		{"RABBIT_PREFETCH", 10, &cfg.RabbitPrefetch},
		{"MAIL_MAX_ATTEMPTS", 5, &cfg.MailMaxAttempts},
		{"BCRYPT_COST", 10, &cfg.BcryptCost},
		{"OTP_MAX_ATTEMPTS", 5, &cfg.OTPMaxAttempts},
		{"RL_ISSUE_LIMIT", 5, &cfg.RLIssueLimit},
		{"RL_LOGIN_LIMIT", 20, &cfg.RLLoginLimit},
		{"RL_VERIFY_LIMIT", 20, &cfg.RLVerifyLimit},
	}
	for _, n := range ints {
		if *n.dst, err = getInt(n.key, n.def); err != nil {
			return nil, err
		}
	}

	// Stores
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", "postgres"))
	cfg.DBAddr = getEnv("DB_ADDR", "")
	cfg.DBDebug = getBool("DB_DEBUG", false)
	cfg.MongoURI = getEnv("MONGO_URI", "")
	cfg.MongoDB = getEnv("MONGO_DB", "chatdesk")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Mail
	cfg.MailTransport = strings.ToLower(getEnv("MAIL_TRANSPORT", "log"))
	cfg.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.SMTPUsername = getEnv("SMTP_USERNAME", "")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = getEnv("SMTP_FROM", cfg.SMTPUsername)
	cfg.SMTPInsecure = getBool("SMTP_INSECURE", false)
	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "chatdesk.auth")
	cfg.RabbitQueue = getEnv("RABBIT_QUEUE", "chatdesk.mail")
	cfg.MailerSender = strings.ToLower(getEnv("MAILER_SENDER", "smtp"))
	cfg.FakeFailMode = getEnv("FAKE_FAIL_MODE", "none")

	// Auth
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTIssuer = getEnv("JWT_ISSUER", "chatdesk-auth")
	cfg.OrgEmailDomain = strings.ToLower(getEnv("ORG_EMAIL_DOMAIN", "anurag.edu.in"))

	cfg.ReaperSpec = getEnv("REAPER_SPEC", "@every 1m")

	cfg.RLEnabled = getBool("RL_ENABLED", true)

	cfg.SeedPassword = os.Getenv("SEED_PASSWORD")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate fails fast on combinations the service cannot run with.
func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.IsDev() {
			return fmt.Errorf("missing required env var: JWT_SECRET")
		}
		c.JWTSecret = devJWTSecret
	}

	switch c.StoreDriver {
	case "postgres":
		if c.DBAddr == "" {
			return fmt.Errorf("missing required env var: DB_ADDR")
		}
		if !strings.HasPrefix(c.DBAddr, "postgres://") && !strings.HasPrefix(c.DBAddr, "postgresql://") {
			return fmt.Errorf("DB_ADDR must be a postgres:// url")
		}
		// pending verifications live in redis for this driver
		if c.RedisAddr == "" {
			return fmt.Errorf("missing required env var: REDIS_ADDR (required by STORE_DRIVER=postgres)")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("missing required env var: MONGO_URI")
		}
	case "memory":
		if !c.IsDev() {
			return fmt.Errorf("STORE_DRIVER=memory is only allowed with ENV=dev")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (postgres|mongo|memory)", c.StoreDriver)
	}

	switch c.MailTransport {
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("smtp transport selected but missing SMTP_HOST")
		}
		// issuance sends while holding the email lock
		if c.LockTTL <= c.SMTPTimeout {
			return fmt.Errorf("LOCK_TTL (%s) must exceed SMTP_TIMEOUT (%s) with MAIL_TRANSPORT=smtp", c.LockTTL, c.SMTPTimeout)
		}
	case "rabbitmq":
		if c.RabbitURL == "" {
			return fmt.Errorf("missing required env var: RABBIT_URL")
		}
	case "log":
		if !c.IsDev() {
			return fmt.Errorf("MAIL_TRANSPORT=log is only allowed with ENV=dev")
		}
	default:
		return fmt.Errorf("invalid MAIL_TRANSPORT %q (smtp|rabbitmq|log)", c.MailTransport)
	}

	if c.MailerSender != "smtp" && c.MailerSender != "fake" {
		return fmt.Errorf("invalid MAILER_SENDER %q (smtp|fake)", c.MailerSender)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be within [4, 31], got %d", c.BcryptCost)
	}
	if c.OTPTTL <= 0 || c.ResetGrantTTL <= 0 || c.AccessTokenTTL <= 0 {
		return fmt.Errorf("OTP_TTL, RESET_GRANT_TTL and ACCESS_TOKEN_TTL must be positive")
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTPMaxAttempts)
	}
	if c.RLEnabled && (c.RLIssueLimit <= 0 || c.RLLoginLimit <= 0 || c.RLVerifyLimit <= 0) {
		return fmt.Errorf("RL_ISSUE_LIMIT, RL_LOGIN_LIMIT and RL_VERIFY_LIMIT must be positive")
	}
	if strings.Contains(c.RedisAddr, " ") {
		return fmt.Errorf("bad REDIS_ADDR (contains spaces): %q", c.RedisAddr)
	}
	return nil
}

func (c *Config) IsDev() bool { return c.Env == "dev" }

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q: %w", key, v, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	return n, nil
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
