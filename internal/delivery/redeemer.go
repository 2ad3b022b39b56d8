package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type urlSigner interface {
	SignedReadURL(bucket, object string, expires time.Duration) (string, error)
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RedeemerConfig tunes redemption.
type RedeemerConfig struct {
	// SignedURLExpiry bounds how long the storage redirect stays valid.
	SignedURLExpiry time.Duration
	// PerMinute caps redemptions per grant; zero disables the limit.
	PerMinute int64
}

// Redeemer exchanges a download token for a short-lived storage URL.
type Redeemer struct {
	issuer  *Issuer
	repo    *Repository
	signer  urlSigner
	limiter rateLimiter
	cfg     RedeemerConfig
	logg    *logger.Logger
	now     func() time.Time
}

func NewRedeemer(issuer *Issuer, repo *Repository, signer urlSigner, limiter rateLimiter, cfg RedeemerConfig, logg *logger.Logger) (*Redeemer, error) {
	if issuer == nil {
		return nil, fmt.Errorf("issuer required")
	}
	if repo == nil {
		return nil, fmt.Errorf("grant repository required")
	}
	if signer == nil {
		return nil, fmt.Errorf("url signer required")
	}
	if cfg.SignedURLExpiry <= 0 {
		cfg.SignedURLExpiry = 5 * time.Minute
	}
	return &Redeemer{
		issuer:  issuer,
		repo:    repo,
		signer:  signer,
		limiter: limiter,
		cfg:     cfg,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// Redeem validates the token, signs the asset URL and then atomically consumes
// the grant. It returns the storage URL the caller should be redirected to.
func (r *Redeemer) Redeem(ctx context.Context, token string) (string, error) {
	claims, err := r.issuer.Parse(token)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid download token")
	}
	if r.logg != nil {
		ctx = r.logg.WithField(ctx, "grant_id", claims.GrantID.String())
	}

	if r.limiter != nil && r.cfg.PerMinute > 0 {
		allowed, _, err := r.limiter.FixedWindowAllow(ctx, "download:"+claims.GrantID.String(), r.cfg.PerMinute, time.Minute)
		if err != nil {
			if r.logg != nil {
				r.logg.Warn(ctx, "download rate limiter unavailable")
			}
		} else if !allowed {
			return "", pkgerrors.New(pkgerrors.CodeRateLimit, "too many download attempts")
		}
	}

	now := r.now().UTC()
	grant, err := r.repo.FindByID(ctx, claims.GrantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "download grant not found")
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load grant")
	}
	if !grant.Redeemable(now) {
		return "", errGrantGone()
	}

	// Sign before consuming so a signing failure leaves the grant usable.
	signed, err := r.signer.SignedReadURL("", grant.AssetKey, r.cfg.SignedURLExpiry)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign asset url")
	}

	ok, err := r.repo.Consume(ctx, claims.GrantID, now)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume grant")
	}
	if !ok {
		return "", errGrantGone()
	}
	if r.logg != nil {
		r.logg.Info(ctx, "digital grant redeemed")
	}
	return signed, nil
}

func errGrantGone() error {
	return pkgerrors.New(pkgerrors.CodeGone, "download link expired or already used")
}
