// Package delivery issues and redeems time-limited download links for digital goods.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
)

const (
	tokenIssuer   = "marketplace-delivery"
	downloadsPath = "/api/v1/downloads/"
)

var signingMethod = jwt.SigningMethodHS256

// GrantClaims identifies what a download link unlocks.
type GrantClaims struct {
	GrantID   uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	ExpiresAt time.Time
}

// Artifact is the buyer-facing retrieval link.
type Artifact struct {
	URL       string    `json:"url"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadClaims is the JWT body of a download token.
type DownloadClaims struct {
	GrantID   uuid.UUID `json:"gid"`
	OrderID   uuid.UUID `json:"oid"`
	ProductID uuid.UUID `json:"pid"`
	jwt.RegisteredClaims
}

// Issuer mints signed download links. It never touches the database.
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewIssuer(cfg config.DeliveryConfig) (*Issuer, error) {
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return nil, fmt.Errorf("%s is required", config.EnvDeliveryTokenSecret)
	}
	if cfg.GrantTTL <= 0 {
		return nil, fmt.Errorf("delivery grant ttl must be positive")
	}
	return &Issuer{
		secret:  []byte(cfg.TokenSecret),
		ttl:     cfg.GrantTTL,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:     time.Now,
	}, nil
}

// ExpiryFrom returns when a grant created at t stops being redeemable.
func (i *Issuer) ExpiryFrom(t time.Time) time.Time {
	return t.Add(i.ttl).UTC()
}

// Issue signs a token for the grant and returns the link that redeems it.
func (i *Issuer) Issue(_ context.Context, claims GrantClaims) (Artifact, error) {
	if claims.GrantID == uuid.Nil {
		return Artifact{}, fmt.Errorf("grant id is required")
	}
	now := i.now().UTC()
	expiresAt := claims.ExpiresAt.UTC()
	if claims.ExpiresAt.IsZero() {
		expiresAt = i.ExpiryFrom(now)
	}
	if !expiresAt.After(now) {
		return Artifact{}, fmt.Errorf("grant already expired")
	}

	token := jwt.NewWithClaims(signingMethod, DownloadClaims{
		GrantID:   claims.GrantID,
		OrderID:   claims.OrderID,
		ProductID: claims.ProductID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   claims.GrantID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return Artifact{}, fmt.Errorf("sign download token: %w", err)
	}
	return Artifact{
		URL:       i.baseURL + downloadsPath + signed,
		Token:     signed,
		ExpiresAt: expiresAt,
	}, nil
}

// Parse validates a download token's signature and expiry.
func (i *Issuer) Parse(token string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.GrantID == uuid.Nil {
		return nil, fmt.Errorf("token missing grant id")
	}
	return claims, nil
}
