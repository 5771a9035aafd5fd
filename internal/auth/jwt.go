package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/naqwa/academy/internal/model"
)

const (
	defaultTokenTTL = 60 * time.Minute
	defaultIssuer   = "naqwa-academy"
	minSecretLength = 16

	// createdAtLayout keeps a fixed three-digit fraction, matching the
	// millisecond precision of stored times.
	createdAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	// ErrTokenExpired means the signature was fine but exp has passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenMalformed covers everything else: bad signature, wrong
	// algorithm, missing or unknown claims, garbage input.
	ErrTokenMalformed = errors.New("auth: token malformed")
)

// TokenConfig is fixed at startup. Changing Secret invalidates every
// outstanding token.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// Claims is the payload of a session token.
//
// CreatedAt is the account's creation time, not the token's; the token's own
// lifetime is governed by ExpiresAt alone.
type Claims struct {
	UserID    string     `json:"user_id"`
	CreatedAt string     `json:"created_at"`
	Role      model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService mints and decodes HS256 session tokens. It holds no mutable
// state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// TTL is the lifetime given to every issued token.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subjectID with the given role.
func (s *TokenService) Issue(subjectID string, accountCreatedAt time.Time, role model.Role) (string, error) {
	if subjectID == "" {
		return "", errors.New("auth: subject id must not be empty")
	}
	if !role.Valid() {
		return "", fmt.Errorf("auth: cannot issue token for role %q", role)
	}

	now := s.now()
	c := Claims{
		UserID:    subjectID,
		CreatedAt: accountCreatedAt.UTC().Format(createdAtLayout),
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Decode verifies the signature, algorithm, issuer and expiry of tokenStr and
// returns its claims. Failures wrap ErrTokenExpired or ErrTokenMalformed.
func (s *TokenService) Decode(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrTokenMalformed)
	}
	if c.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrTokenMalformed)
	}
	if _, err := model.ParseRole(string(c.Role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	return c, nil
}
