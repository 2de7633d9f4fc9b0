// Package session issues and validates short-lived session tokens.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wglabs/lifeos/internal/auth/user"
	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
)

// DefaultTTL is the fixed session lifetime. Tokens are regenerated on every
// successful authentication rather than extended, so the app auto-locks after
// fifteen minutes of inactivity.
const DefaultTTL = 15 * time.Minute

// Config controls session token signing.
type Config struct {
	Secret string        `env:"LIFEOS_SESSION_SECRET"`
	Issuer string        `env:"LIFEOS_SESSION_ISSUER" envDefault:"lifeos-auth"`
	TTL    time.Duration `env:"LIFEOS_SESSION_TTL"`
}

// LoadConfigFromEnv returns session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.Issuer == "" {
		cfg.Issuer = "lifeos-auth"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return cfg
}

// Payload is the minimal user identity carried by a session token.
type Payload struct {
	UserID           string
	Email            string
	Role             string
	BiometricEnabled bool
}

// PayloadFromUser projects a user record onto the session payload.
func PayloadFromUser(u user.User) Payload {
	return Payload{
		UserID:           u.ID,
		Email:            u.Email,
		Role:             u.Role,
		BiometricEnabled: u.BiometricEnabled,
	}
}

type claims struct {
	jwt.RegisteredClaims
	Email            string `json:"email"`
	Role             string `json:"role"`
	BiometricEnabled bool   `json:"biometric_enabled"`
}

// Issuer signs and validates session tokens.
type Issuer struct {
	config Config
	clock  func() time.Time
}

// NewIssuer builds a token issuer. The clock is injectable for tests; nil
// means time.Now.
func NewIssuer(config Config, clock func() time.Time) *Issuer {
	if clock == nil {
		clock = time.Now
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Issuer{config: config, clock: clock}
}

// TTL reports the configured session lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.config.TTL
}

// Issue signs a fresh token for the payload.
func (i *Issuer) Issue(payload Payload) (string, error) {
	if strings.TrimSpace(i.config.Secret) == "" {
		return "", apperrors.New(apperrors.CodeUnknown, "session secret is not configured")
	}
	now := i.clock().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
		Email:            payload.Email,
		Role:             payload.Role,
		BiometricEnabled: payload.BiometricEnabled,
	})
	signed, err := token.SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "sign session token", err)
	}
	return signed, nil
}

// Validate parses a token and returns its payload.
//
// Expired and tampered tokens both come back as session errors; callers never
// see the raw jwt failure.
func (i *Issuer) Validate(token string) (Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Payload{}, apperrors.New(apperrors.CodeSessionInvalid, "session token is required")
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return []byte(i.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	)
	if err != nil {
		code := apperrors.CodeSessionInvalid
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = apperrors.CodeSessionExpired
		}
		return Payload{}, apperrors.Wrap(code, "validate session token", err)
	}

	return Payload{
		UserID:           parsed.Subject,
		Email:            parsed.Email,
		Role:             parsed.Role,
		BiometricEnabled: parsed.BiometricEnabled,
	}, nil
}
