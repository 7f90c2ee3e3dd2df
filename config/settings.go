package config

import (
	"os"
	"strings"
	"time"
)

const (
	defaultPort          = "8080"
	defaultPublicBaseURL = "https://rgqrscan.vercel.app"
	defaultSheetRange    = "Sheet1!A:F"
	defaultMirrorZone    = "Asia/Kolkata"

	MirrorTransportDirect = "direct"
	MirrorTransportPubSub = "pubsub"
)

// Settings is the process configuration read once at startup.
type Settings struct {
	Port          string
	PublicBaseURL string
	Locale        string
	Production    bool
	CORSOrigins   []string

	SkipMigrations    bool
	CacheTTL          time.Duration
	ReconcileInterval time.Duration
	OpsToken          string
	GCSBucket         string

	Mirror    MirrorSettings
	Outbox    OutboxSettings
	RateLimit RateLimitSettings
}

// MirrorSettings configures the spreadsheet mirror. The mirror is off unless all three credentials are set.
type MirrorSettings struct {
	ServiceAccountEmail string
	PrivateKey          string
	SheetID             string
	Range               string
	Location            *time.Location
	Transport           string
	PubSubTopic         string
}

func (m MirrorSettings) Enabled() bool {
	return m.ServiceAccountEmail != "" && m.PrivateKey != "" && m.SheetID != ""
}

type OutboxSettings struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

type RateLimitSettings struct {
	Enabled     bool
	MaxRequests int64
	Window      time.Duration
}

// Load reads Settings from the environment, falling back to defaults for anything unset or malformed.
func Load() Settings {
	port := envString("API_PORT", "")
	if port == "" {
		port = envString("PORT", defaultPort)
	}

	s := Settings{
		Port:              port,
		PublicBaseURL:     strings.TrimRight(envString("PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
		Locale:            envString("LOCALE", "en"),
		Production:        strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production"),
		CORSOrigins:       splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
		SkipMigrations:    envBool("SKIP_MIGRATIONS"),
		CacheTTL:          secondsFromEnv("CACHE_TTL_SECONDS", 30),
		ReconcileInterval: secondsFromEnv("RECONCILE_INTERVAL_SECONDS", 300),
		OpsToken:          envString("OPS_TOKEN", ""),
		GCSBucket:         envString("GCS_BUCKET", ""),
		Mirror: MirrorSettings{
			ServiceAccountEmail: envString("GOOGLE_SERVICE_ACCOUNT_EMAIL", ""),
			PrivateKey:          normalizePrivateKey(os.Getenv("GOOGLE_PRIVATE_KEY")),
			SheetID:             envString("GOOGLE_SHEET_ID", ""),
			Range:               envString("SHEET_RANGE", defaultSheetRange),
			Location:            LoadMirrorLocation(envString("MIRROR_TIMEZONE", defaultMirrorZone)),
			Transport:           strings.ToLower(envString("MIRROR_TRANSPORT", MirrorTransportDirect)),
			PubSubTopic:         envString("PUBSUB_TOPIC", ""),
		},
		Outbox: OutboxSettings{
			BatchSize:      intFromEnv("OUTBOX_BATCH_SIZE", 50),
			PollInterval:   time.Duration(intFromEnv("OUTBOX_POLL_MS", 500)) * time.Millisecond,
			MaxAttempts:    intFromEnv("OUTBOX_MAX_ATTEMPTS", 20),
			InitialBackoff: secondsFromEnv("OUTBOX_INITIAL_BACKOFF_SECONDS", 5),
		},
		RateLimit: RateLimitSettings{
			Enabled:     envBool("RATE_LIMIT_ENABLED"),
			MaxRequests: int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
			Window:      secondsFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	}

	if s.Mirror.Transport != MirrorTransportPubSub {
		s.Mirror.Transport = MirrorTransportDirect
	} else if s.Mirror.PubSubTopic == "" {
		GetLogger().Warn("MIRROR_TRANSPORT=pubsub but PUBSUB_TOPIC is empty; falling back to direct sheet appends")
		s.Mirror.Transport = MirrorTransportDirect
	}
	if !s.Mirror.Enabled() {
		GetLogger().Warn("spreadsheet credentials not configured; mirror disabled")
	}
	if s.RateLimit.MaxRequests <= 0 {
		s.RateLimit.MaxRequests = 600
	}
	if s.RateLimit.Window <= 0 {
		s.RateLimit.Window = 60 * time.Second
	}
	return s
}

// Private keys copied into env files usually carry literal "\n" sequences.
func normalizePrivateKey(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, `"`)
	return strings.ReplaceAll(raw, `\n`, "\n")
}
