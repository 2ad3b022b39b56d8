package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailDispatcher sends buyer messages through SendGrid.
type EmailDispatcher struct {
	client mailClient
	from   *mail.Email
	logg   *logger.Logger
}

// NewEmailDispatcher builds a SendGrid-backed dispatcher.
func NewEmailDispatcher(cfg config.SendgridConfig, logg *logger.Logger) (*EmailDispatcher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key required")
	}
	return newEmailDispatcher(sendgrid.NewSendClient(cfg.APIKey), cfg, logg)
}

func newEmailDispatcher(client mailClient, cfg config.SendgridConfig, logg *logger.Logger) (*EmailDispatcher, error) {
	if client == nil {
		return nil, errors.New("mail client required")
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("sender address required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &EmailDispatcher{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.DefaultFrom),
		logg:   logg,
	}, nil
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, msg Message) error {
	email, ok, err := renderEmail(msg)
	if !ok {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "render email")
	}

	message := mail.NewSingleEmail(d.from, email.Subject, mail.NewEmail("", email.To), email.Text, email.HTML)
	resp, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sendgrid send")
	}
	if resp != nil && resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid rejected message: status %d", resp.StatusCode)).
			WithDetails(map[string]any{"body": resp.Body})
	}

	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"event_id":   msg.EventID.String(),
		"event_type": msg.EventType,
	}), "buyer email sent")
	return nil
}
