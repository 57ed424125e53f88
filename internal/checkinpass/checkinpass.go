// Package checkinpass issues and verifies short-lived check-in passes.
//
// A pass is an HS256 JWT naming one participant and one event. The participant
// renders it as a QR code; whoever scans it at the door presents it back to the
// ledger, which only needs to know the pass is genuine, unexpired and names the
// identity being checked in.
package checkinpass

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config defines how passes are signed and verified.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func (c Config) validate() error {
	if len(c.Secret) < 32 {
		return errors.New("check-in pass secret must be at least 32 bytes")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("check-in pass issuer is required")
	}
	if c.TTL <= 0 {
		return errors.New("check-in pass ttl must be positive")
	}
	return nil
}

// Pass is a signed token plus its expiry.
type Pass struct {
	Token     string    `json:"pass"`
	EventID   int64     `json:"event_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type passClaims struct {
	jwt.RegisteredClaims
	EventID int64 `json:"event_id"`
}

// Authority issues and verifies passes with a shared secret.
type Authority struct {
	cfg Config
}

// New validates cfg and returns an Authority.
func New(cfg Config) (*Authority, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authority{cfg: cfg}, nil
}

// Issue signs a pass for participant at eventID.
func (a *Authority) Issue(eventID int64, participant string) (Pass, error) {
	participant = model.NormalizeIdentity(participant)
	if participant == "" {
		return Pass{}, errors.New("participant is required")
	}
	now := a.cfg.Now().UTC().Truncate(time.Second)
	exp := now.Add(a.cfg.TTL)

	claims := passClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   participant,
			Audience:  jwt.ClaimStrings{audience(eventID)},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		EventID: eventID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return Pass{}, fmt.Errorf("sign check-in pass: %w", err)
	}
	return Pass{Token: token, EventID: eventID, ExpiresAt: exp}, nil
}

// Verify checks that token is a valid, unexpired pass for participant at
// eventID. Every rejection wraps model.ErrUnauthorized.
func (a *Authority) Verify(_ context.Context, token string, eventID int64, participant string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return unauthorized("check-in pass is required")
	}

	var parsed passClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithAudience(audience(eventID)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.cfg.Now),
	)
	if err != nil {
		return mapJWTError(err)
	}

	if parsed.EventID != eventID {
		return unauthorized("check-in pass is for a different event")
	}
	if parsed.Subject == "" || parsed.Subject != model.NormalizeIdentity(participant) {
		return unauthorized("check-in pass does not match participant")
	}
	return nil
}

func audience(eventID int64) string {
	return "event:" + strconv.FormatInt(eventID, 10)
}

func unauthorized(msg string) error {
	return fmt.Errorf("%w: %s", model.ErrUnauthorized, msg)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return unauthorized("check-in pass expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return unauthorized("check-in pass not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return unauthorized("check-in pass is for a different event")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return unauthorized("check-in pass issuer mismatch")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return unauthorized("check-in pass signature invalid")
	default:
		return unauthorized("check-in pass invalid")
	}
}
