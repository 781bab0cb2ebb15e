// internal/notify/notify.go
package notify

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"membership-core/internal/common/config"
	"membership-core/internal/common/logger"
)

// EventType identifies a billing or session event worth telling the user about.
type EventType string

const (
	EventInvoiceIssued         EventType = "invoice_issued"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventSubscriptionSuspended EventType = "subscription_suspended"
	EventSubscriptionCanceled  EventType = "subscription_canceled"
)

// Event carries everything a channel needs to render a message.
type Event struct {
	Type          EventType
	EntityID      string
	Email         string
	PhoneNumber   string
	InvoiceNumber string
	AmountCents   int64
	Currency      string
}

// Dispatcher is the fire-and-forget notification contract. Dispatch must
// never block or fail the billing transition that triggered it.
type Dispatcher interface {
	Dispatch(ev Event)
}

// EmailSender matches the SES client surface we use.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// SMSSender matches the SNS client surface we use.
type SMSSender interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// AWSDispatcher sends events over SES email and SNS SMS on a background
// goroutine, after the transition that produced them has committed.
type AWSDispatcher struct {
	email     EmailSender
	sms       SMSSender
	cfg       config.NotificationConfig
	fromEmail string
	logger    logger.Logger
	timeout   time.Duration
}

func NewAWSDispatcher(email EmailSender, sms SMSSender, cfg config.NotificationConfig, log logger.Logger) *AWSDispatcher {
	return &AWSDispatcher{
		email:     email,
		sms:       sms,
		cfg:       cfg,
		fromEmail: cfg.Email.FromEmail,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
		timeout:   10 * time.Second,
	}
}

// Dispatch fires the event asynchronously. Errors are logged and dropped.
func (d *AWSDispatcher) Dispatch(ev Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if d.cfg.Email.Enabled && ev.Email != "" && d.email != nil {
			if err := d.sendEmail(ctx, ev); err != nil {
				d.logger.WithError(err).Warn("email notification failed", map[string]interface{}{
					"eventType": string(ev.Type),
					"entityId":  ev.EntityID,
				})
			}
		}

		if d.cfg.SMS.Enabled && ev.PhoneNumber != "" && d.sms != nil {
			if err := d.sendSMS(ctx, ev); err != nil {
				d.logger.WithError(err).Warn("sms notification failed", map[string]interface{}{
					"eventType": string(ev.Type),
					"entityId":  ev.EntityID,
				})
			}
		}
	}()
}

func (d *AWSDispatcher) sendEmail(ctx context.Context, ev Event) error {
	subject, body := renderMessage(ev)
	_, err := d.email.SendEmail(ctx, &ses.SendEmailInput{
		Source:      sdkaws.String(d.fromEmail),
		Destination: &sestypes.Destination{ToAddresses: []string{ev.Email}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: sdkaws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: sdkaws.String(body)},
			},
		},
	})
	return err
}

func (d *AWSDispatcher) sendSMS(ctx context.Context, ev Event) error {
	_, body := renderMessage(ev)
	_, err := d.sms.Publish(ctx, &sns.PublishInput{
		PhoneNumber: sdkaws.String(ev.PhoneNumber),
		Message:     sdkaws.String(body),
	})
	return err
}

func renderMessage(ev Event) (subject, body string) {
	amount := fmt.Sprintf("%s %.2f", ev.Currency, float64(ev.AmountCents)/100)
	switch ev.Type {
	case EventInvoiceIssued:
		return "Your invoice " + ev.InvoiceNumber,
			fmt.Sprintf("Invoice %s for %s has been issued.", ev.InvoiceNumber, amount)
	case EventPaymentSucceeded:
		return "Payment received",
			fmt.Sprintf("We received your payment of %s for invoice %s. Thank you.", amount, ev.InvoiceNumber)
	case EventPaymentFailed:
		return "Payment failed",
			fmt.Sprintf("Your payment of %s for invoice %s failed. Please update your payment details.", amount, ev.InvoiceNumber)
	case EventSubscriptionSuspended:
		return "Subscription suspended",
			"Your subscription has been suspended after repeated payment failures. Settle the outstanding invoice to restore access."
	case EventSubscriptionCanceled:
		return "Subscription canceled",
			"Your subscription has been canceled. Access remains until the end of the paid period."
	default:
		return "Account update", "There has been an update to your account."
	}
}

// NopDispatcher swallows events; used in tests and when channels are disabled.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(Event) {}
