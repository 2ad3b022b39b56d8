package notifications

import (
	"context"
	"errors"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

// InAppDispatcher records seller alerts in the notifications table. The event
// id is unique there, so a redelivered event leaves one row.
type InAppDispatcher struct {
	repo Repository
	logg *logger.Logger
}

func NewInAppDispatcher(repo Repository, logg *logger.Logger) (*InAppDispatcher, error) {
	if repo == nil {
		return nil, errors.New("notifications repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &InAppDispatcher{repo: repo, logg: logg}, nil
}

func (d *InAppDispatcher) Dispatch(ctx context.Context, msg Message) error {
	rendered, ok := renderInApp(msg)
	if !ok {
		return nil
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"event_id":   msg.EventID.String(),
		"event_type": msg.EventType,
	})
	logCtx = d.logg.WithSellerID(logCtx, rendered.SellerID.String())

	eventID := msg.EventID
	created, err := d.repo.Create(ctx, &models.Notification{
		SellerID: rendered.SellerID,
		Type:     rendered.Type,
		Title:    rendered.Title,
		Message:  rendered.Message,
		Link:     rendered.Link,
		EventID:  &eventID,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	if !created {
		d.logg.Debug(logCtx, "notification already recorded")
		return nil
	}
	d.logg.Info(logCtx, "seller notified")
	return nil
}
