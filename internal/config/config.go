// Package config loads VoxCortex's runtime configuration from the
// environment, with an optional YAML policy-file overlay for the
// operator-tunable promotion policy.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// MinSchemaVersion is the lowest store schema version this binary can run
// against. Bump alongside breaking schema changes in internal/store.
const MinSchemaVersion = "1.0.0"

// Config holds process-wide settings resolved once at startup.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string

	GeminiAPIKey      string
	GeminiModel       string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	EvidenceSigningKeyB64 string

	EvidenceArchiveBackend string // "", "gcs", "s3"
	EvidenceArchiveBucket  string

	RedisURL string

	EnablePubSub bool

	PolicyFile        string
	MinSchemaVersion  string
	PromotionPolicy   PromotionPolicy
}

// PromotionPolicy is the operator-tunable overlay for the belief promoter.
// Only CELExpression is passed to the promoter, and an empty expression
// selects its built-in default (see internal/promotion). PromoteThreshold
// and HoldThreshold are read from the file but are not applied anywhere.
type PromotionPolicy struct {
	PromoteThreshold float64 `yaml:"promote_threshold"`
	HoldThreshold    float64 `yaml:"hold_threshold"`
	CELExpression    string  `yaml:"cel_expression"`
}

type policyFile struct {
	Promotion PromotionPolicy `yaml:"promotion"`
}

// Load reads configuration from the environment and, if
// VOXCORTEX_POLICY_FILE is set, overlays the referenced YAML file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                   getenv("PORT", "8080"),
		LogLevel:               getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:            getenv("DATABASE_URL", "postgres://voxcortex@localhost:5432/voxcortex?sslmode=disable"),
		GeminiAPIKey:           firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
		GeminiModel:            getenv("GEMINI_REASONER_MODEL", "gemini-2.5-flash"),
		ElevenLabsAPIKey:       os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:      os.Getenv("ELEVENLABS_VOICE_ID"),
		EvidenceSigningKeyB64:  os.Getenv("EVIDENCE_SIGNING_KEY_B64"),
		EvidenceArchiveBackend: os.Getenv("EVIDENCE_ARCHIVE_BACKEND"),
		EvidenceArchiveBucket:  os.Getenv("EVIDENCE_ARCHIVE_BUCKET"),
		RedisURL:               os.Getenv("REDIS_URL"),
		EnablePubSub:           os.Getenv("ENABLE_PUBSUB") == "true",
		PolicyFile:             os.Getenv("VOXCORTEX_POLICY_FILE"),
		MinSchemaVersion:       getenv("VOXCORTEX_MIN_SCHEMA_VERSION", MinSchemaVersion),
	}

	if err := cfg.checkSchemaCompat(); err != nil {
		return nil, err
	}

	if cfg.PolicyFile != "" {
		if err := cfg.loadPolicyFile(); err != nil {
			return nil, fmt.Errorf("config: load policy file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadPolicyFile() error {
	raw, err := os.ReadFile(c.PolicyFile)
	if err != nil {
		return err
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	c.PromotionPolicy = pf.Promotion
	return nil
}

// checkSchemaCompat fails startup if the configured minimum schema version
// isn't satisfiable by MinSchemaVersion, catching operator misconfiguration
// early instead of at the first failed query.
func (c *Config) checkSchemaCompat() error {
	required, err := semver.NewVersion(c.MinSchemaVersion)
	if err != nil {
		return fmt.Errorf("config: invalid VOXCORTEX_MIN_SCHEMA_VERSION %q: %w", c.MinSchemaVersion, err)
	}
	built, err := semver.NewVersion(MinSchemaVersion)
	if err != nil {
		return fmt.Errorf("config: invalid built-in schema version %q: %w", MinSchemaVersion, err)
	}
	if required.GreaterThan(built) {
		return fmt.Errorf("config: VOXCORTEX_MIN_SCHEMA_VERSION %s exceeds this binary's schema version %s", required, built)
	}
	return nil
}

// SigningKeyConfigured reports whether HMAC provenance signing is possible.
func (c *Config) SigningKeyConfigured() bool {
	return c.EvidenceSigningKeyB64 != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// mustParseBool parses s as a bool, returning fallback when s is empty or
// not a valid bool. Nothing in this package calls it at present.
func mustParseBool(s string, fallback bool) bool {
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}
