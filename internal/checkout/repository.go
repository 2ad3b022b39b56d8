package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
)

// Repository persists captured checkout sessions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout session repository backed by db.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByID returns nil when no session exists.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
