package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// FulfillmentJob is the durable queue row for one verified transaction.
type FulfillmentJob struct {
	ID                   uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	TransactionReference string                     `gorm:"column:transaction_reference;not null;uniqueIndex"`
	Payload              types.FulfillmentJob       `gorm:"column:payload;type:jsonb;not null"`
	Status               enums.FulfillmentJobStatus `gorm:"column:status;type:fulfillment_job_status;not null;default:'queued'"`
	Attempts             int                        `gorm:"column:attempts;not null;default:0"`
	NextRunAt            time.Time                  `gorm:"column:next_run_at;not null"`
	LockedBy             *string                    `gorm:"column:locked_by"`
	LockedUntil          *time.Time                 `gorm:"column:locked_until"`
	LastError            *string                    `gorm:"column:last_error"`
	CompletedAt          *time.Time                 `gorm:"column:completed_at"`
	CreatedAt            time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *FulfillmentJob) BeforeCreate(*gorm.DB) error {
	ensureID(&j.ID)
	return nil
}
