package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type jobStatusReader interface {
	StatusByReference(ctx context.Context, reference string) (*queue.JobView, error)
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	StatusByReference(ctx context.Context, reference string, viewer Viewer) (*OrderStatus, error)
	TransitionDelivery(ctx context.Context, input DeliveryTransitionInput) (*SubOrderDTO, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	jobs   jobStatusReader
	logg   *logger.Logger
}

func NewService(repo Repository, tx txRunner, publisher outboxPublisher, jobs jobStatusReader, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job status reader required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher, jobs: jobs, logg: logg}, nil
}

// StatusByReference reports the order for a payment reference, or the queue
// state while fulfillment is still pending.
func (s *service) StatusByReference(ctx context.Context, reference string, viewer Viewer) (*OrderStatus, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	order, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	job, err := s.jobs.StatusByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if order == nil {
		if job == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		// Queue state carries no buyer data.
		status := job.Status
		return &OrderStatus{TransactionReference: reference, QueueStatus: &status}, nil
	}

	if viewer.Role != enums.ActorRoleAdmin && order.BuyerID != viewer.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	out := &OrderStatus{TransactionReference: reference, Order: toOrderDTO(*order)}
	if job != nil {
		status := job.Status
		out.QueueStatus = &status
	}
	return out, nil
}

// TransitionDelivery moves a sub-order one step along order_placed →
// processing → out_for_delivery → delivered and tells the buyer.
func (s *service) TransitionDelivery(ctx context.Context, input DeliveryTransitionInput) (*SubOrderDTO, error) {
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery status")
	}
	switch input.ActorRole {
	case enums.ActorRoleSeller, enums.ActorRoleCourier, enums.ActorRoleAdmin:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot update delivery status")
	}

	var updated *models.SubOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindSubOrder(ctx, input.SubOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub-order")
		}
		if input.ActorRole == enums.ActorRoleSeller && sub.SellerID != input.ActorUserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "sub-order belongs to another seller")
		}
		from := sub.DeliveryStatus
		if !from.CanTransitionTo(input.To) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "invalid delivery transition").
				WithDetails(map[string]any{"from": from, "to": input.To})
		}

		updates := map[string]any{"delivery_status": input.To}
		if carrier := trimmed(input.TrackingCarrier); carrier != nil {
			updates["tracking_carrier"] = *carrier
		}
		if number := trimmed(input.TrackingNumber); number != nil {
			updates["tracking_number"] = *number
		}
		if input.To == enums.DeliveryDelivered {
			updates["delivered_at"] = nowUTC()
		}
		rows, err := repo.UpdateSubOrderStatus(ctx, sub.ID, from, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub-order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "sub-order changed concurrently")
		}

		order, err := repo.FindByID(ctx, sub.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}

		updated, err = repo.FindSubOrder(ctx, sub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload sub-order")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventSubOrderStatusChanged,
			AggregateType: enums.AggregateSubOrder,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: string(input.ActorRole)},
			Data: payloads.SubOrderStatusChangedEvent{
				OrderID:         order.ID,
				SubOrderID:      sub.ID,
				SellerID:        sub.SellerID,
				BuyerEmail:      order.BuyerEmail,
				From:            from,
				To:              input.To,
				TrackingCarrier: updated.TrackingCarrier,
				TrackingNumber:  updated.TrackingNumber,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit sub-order status event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"sub_order_id":    updated.ID.String(),
			"seller_id":       updated.SellerID.String(),
			"delivery_status": updated.DeliveryStatus,
		})
		s.logg.Info(logCtx, "sub-order delivery status updated")
	}

	dto := toOrderDTO(models.Order{SubOrders: []models.SubOrder{*updated}}).SubOrders[0]
	return &dto, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
