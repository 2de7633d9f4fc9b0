// Package passkey holds WebAuthn relying-party configuration.
package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ChallengeKind describes the WebAuthn ceremony a challenge belongs to.
type ChallengeKind string

const (
	ChallengeKindRegistration   ChallengeKind = "registration"
	ChallengeKindAuthentication ChallengeKind = "authentication"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"LIFEOS_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"LIFEOS_WEBAUTHN_RP_ID"`
	RPOrigins     []string      `env:"LIFEOS_WEBAUTHN_RP_ORIGINS"    envSeparator:","`
	ChallengeTTL  time.Duration `env:"LIFEOS_WEBAUTHN_CHALLENGE_TTL"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
//
// A malformed value falls back to its default without discarding the fields
// that did parse.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "LifeOS"
	}
	if cfg.RPID == "" {
		cfg.RPID = "localhost"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return cfg
}
