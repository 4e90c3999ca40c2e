// Package config holds deployment settings for the safety pipeline.
// Everything can be set via environment variables (PIXEL_ prefix) or
// programmatically; the YAML lexicon overlay extends the detection
// vocabularies without a rebuild.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/redact"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/session"
)

// SessionBackend selects where session state lives.
type SessionBackend string

const (
	BackendMemory SessionBackend = "memory" // single node, default
	BackendRedis  SessionBackend = "redis"  // multi node
)

// AuditBackend selects where per-turn audit records go.
type AuditBackend string

const (
	AuditJSONL    AuditBackend = "jsonl"
	AuditPostgres AuditBackend = "postgres"
	AuditNone     AuditBackend = "none"
)

// Config holds global settings for the safety gateway.
type Config struct {
	// === Core Settings ===
	ListenAddr  string // HTTP listen address (default: ":8087")
	LexiconPath string // Optional YAML lexicon overlay path

	// === Session Storage ===
	SessionBackend SessionBackend // "memory" or "redis"
	RedisAddr      string         // Redis address for the redis backend
	SessionTTL     time.Duration  // Idle session expiry (default: 1h)

	// === Audit ===
	AuditBackend     AuditBackend // "jsonl", "postgres", or "none"
	AuditLogPath     string       // JSONL path (default: "audit_events.jsonl")
	AuditPostgresDSN string       // DSN for the postgres backend

	// === Crisis Detection (0.0 - 1.0 unless noted) ===
	BaseSeverity     float64
	SpecificityBoost float64
	MeansBoost       float64
	ImmediacyBoost   float64
	ImminentSeverity float64 // above this: imminent
	HighSeverity     float64 // above this: high
	ModerateSeverity float64 // above this: moderate
	LowSeverity      float64 // above this: low
	HighSignalCount  int     // more signals than this: high
	ConfidenceBase   float64
	ConfidenceStep   float64
	ConfidenceCap    float64

	// === Bias Validation ===
	BiasThreshold float64 // indicator weight above this flags

	// === Escalation ===
	SustainedLowTurns int // consecutive low-risk turns before review

	// === Session Windows ===
	TurnWindow        int // retained turns per session (default: 10)
	EQTrendWindow     int // rolling EQ scores per session (default: 20)
	BiasFlagWindow    int // retained bias flags per session (default: 50)
	RiskHistoryWindow int // retained risk points per session (default: 20)

	// === Redaction ===
	PIICategories  []string // categories to mask; empty = defaults
	PIIGenericMask bool     // true: [REDACTED] for everything

	// === Semantic Layer (advisory, off by default) ===
	EnableSemantic    bool
	SemanticThreshold float64
}

// NewDefaultConfig builds the documented default configuration, with
// every field overridable via PIXEL_* environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:  GetEnv("PIXEL_LISTEN_ADDR", ":8087"),
		LexiconPath: GetEnv("PIXEL_LEXICON_PATH", ""),

		SessionBackend: SessionBackend(GetEnv("PIXEL_SESSION_BACKEND", string(BackendMemory))),
		RedisAddr:      GetEnv("PIXEL_REDIS_ADDR", "localhost:6379"),
		SessionTTL:     time.Duration(GetEnvInt("PIXEL_SESSION_TTL_SECONDS", 3600)) * time.Second,

		AuditBackend:     AuditBackend(GetEnv("PIXEL_AUDIT_BACKEND", string(AuditJSONL))),
		AuditLogPath:     GetEnv("PIXEL_AUDIT_LOG", "audit_events.jsonl"),
		AuditPostgresDSN: GetEnv("PIXEL_AUDIT_POSTGRES_DSN", ""),

		BaseSeverity:     GetEnvFloat("PIXEL_BASE_SEVERITY", 0.5),
		SpecificityBoost: GetEnvFloat("PIXEL_SPECIFICITY_BOOST", 0.3),
		MeansBoost:       GetEnvFloat("PIXEL_MEANS_BOOST", 0.4),
		ImmediacyBoost:   GetEnvFloat("PIXEL_IMMEDIACY_BOOST", 0.2),
		ImminentSeverity: GetEnvFloat("PIXEL_IMMINENT_SEVERITY", 0.9),
		HighSeverity:     GetEnvFloat("PIXEL_HIGH_SEVERITY", 0.7),
		ModerateSeverity: GetEnvFloat("PIXEL_MODERATE_SEVERITY", 0.4),
		LowSeverity:      GetEnvFloat("PIXEL_LOW_SEVERITY", 0.2),
		HighSignalCount:  GetEnvInt("PIXEL_HIGH_SIGNAL_COUNT", 2),
		ConfidenceBase:   GetEnvFloat("PIXEL_CONFIDENCE_BASE", 0.7),
		ConfidenceStep:   GetEnvFloat("PIXEL_CONFIDENCE_STEP", 0.1),
		ConfidenceCap:    GetEnvFloat("PIXEL_CONFIDENCE_CAP", 0.95),

		BiasThreshold: GetEnvFloat("PIXEL_BIAS_THRESHOLD", 0.3),

		SustainedLowTurns: clampInt(GetEnvInt("PIXEL_SUSTAINED_LOW_TURNS", 3), 1, 100),

		TurnWindow:        GetEnvInt("PIXEL_TURN_WINDOW", 10),
		EQTrendWindow:     GetEnvInt("PIXEL_EQ_TREND_WINDOW", 20),
		BiasFlagWindow:    GetEnvInt("PIXEL_BIAS_FLAG_WINDOW", 50),
		RiskHistoryWindow: GetEnvInt("PIXEL_RISK_HISTORY_WINDOW", 20),

		PIICategories:  GetEnvSlice("PIXEL_PII_CATEGORIES", nil),
		PIIGenericMask: GetEnvBool("PIXEL_PII_GENERIC_MASK", false),

		EnableSemantic:    GetEnvBool("PIXEL_ENABLE_SEMANTIC", false),
		SemanticThreshold: GetEnvFloat("PIXEL_SEMANTIC_THRESHOLD", 0.78),
	}
}

// NewHighSensitivityConfig lowers every trigger for deployments that
// prefer false positives over missed crises.
func NewHighSensitivityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.ImminentSeverity = 0.8
	cfg.HighSeverity = 0.55
	cfg.ModerateSeverity = 0.3
	cfg.BiasThreshold = 0.2
	cfg.SustainedLowTurns = 2
	return cfg
}

// NewLowNoiseConfig raises triggers for supervised settings where a
// clinician already reviews every session.
func NewLowNoiseConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.HighSeverity = 0.8
	cfg.BiasThreshold = 0.5
	cfg.SustainedLowTurns = 5
	return cfg
}

// CrisisThresholds maps the flat config fields onto detector tunables.
func (c *Config) CrisisThresholds() crisis.Thresholds {
	t := crisis.DefaultThresholds()
	t.BaseSeverity = c.BaseSeverity
	t.SpecificityBoost = c.SpecificityBoost
	t.MeansBoost = c.MeansBoost
	t.ImmediacyBoost = c.ImmediacyBoost
	t.ImminentSeverity = c.ImminentSeverity
	t.HighSeverity = c.HighSeverity
	t.ModerateSeverity = c.ModerateSeverity
	t.LowSeverity = c.LowSeverity
	t.HighSignalCount = c.HighSignalCount
	t.ConfidenceBase = c.ConfidenceBase
	t.ConfidenceStep = c.ConfidenceStep
	t.ConfidenceCap = c.ConfidenceCap
	return t
}

// SessionLimits maps the window fields onto session retention limits.
func (c *Config) SessionLimits() session.Limits {
	return session.Limits{
		TurnWindow:  c.TurnWindow,
		EQTrend:     c.EQTrendWindow,
		BiasFlags:   c.BiasFlagWindow,
		RiskHistory: c.RiskHistoryWindow,
	}
}

// RedactOptions maps the config onto redaction options. Unknown
// category names are dropped with a warning rather than failing
// startup.
func (c *Config) RedactOptions() redact.Options {
	var opts redact.Options
	if c.PIIGenericMask {
		opts.Mask = redact.MaskRedacted
	}
	known := make(map[redact.Category]bool)
	for _, cat := range redact.AllCategories() {
		known[cat] = true
	}
	for _, name := range c.PIICategories {
		cat := redact.Category(strings.ToLower(strings.TrimSpace(name)))
		if !known[cat] {
			log.Printf("[STARTUP] Warning: unknown PII category %q ignored", name)
			continue
		}
		opts.Categories = append(opts.Categories, cat)
	}
	return opts
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in [0,1], got %v", name, v))
		}
	}
	unit("base severity", c.BaseSeverity)
	unit("specificity boost", c.SpecificityBoost)
	unit("means boost", c.MeansBoost)
	unit("immediacy boost", c.ImmediacyBoost)
	unit("imminent severity", c.ImminentSeverity)
	unit("high severity", c.HighSeverity)
	unit("moderate severity", c.ModerateSeverity)
	unit("low severity", c.LowSeverity)
	unit("confidence base", c.ConfidenceBase)
	unit("confidence cap", c.ConfidenceCap)
	unit("bias threshold", c.BiasThreshold)

	if !(c.ImminentSeverity > c.HighSeverity && c.HighSeverity > c.ModerateSeverity && c.ModerateSeverity > c.LowSeverity) {
		problems = append(problems, "severity thresholds must be strictly ordered imminent > high > moderate > low")
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "redis backend requires PIXEL_REDIS_ADDR")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown session backend %q", c.SessionBackend))
	}

	switch c.AuditBackend {
	case AuditJSONL, AuditNone:
	case AuditPostgres:
		if c.AuditPostgresDSN == "" {
			problems = append(problems, "postgres audit backend requires PIXEL_AUDIT_POSTGRES_DSN")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown audit backend %q", c.AuditBackend))
	}

	if c.SessionTTL <= 0 {
		problems = append(problems, "session TTL must be positive")
	}
	if c.SustainedLowTurns < 1 {
		problems = append(problems, "sustained low turns must be at least 1")
	}
	window := func(name string, v int) {
		if v < 1 {
			problems = append(problems, fmt.Sprintf("%s must be at least 1, got %d", name, v))
		}
	}
	window("turn window", c.TurnWindow)
	window("EQ trend window", c.EQTrendWindow)
	window("bias flag window", c.BiasFlagWindow)
	window("risk history window", c.RiskHistoryWindow)

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before serving.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}
