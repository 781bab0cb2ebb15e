// internal/notify/notify_test.go
package notify

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-core/internal/common/config"
	"membership-core/internal/common/logger"
)

type captureEmail struct {
	sent chan *ses.SendEmailInput
}

func (c *captureEmail) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	c.sent <- input
	return &ses.SendEmailOutput{}, nil
}

type captureSMS struct {
	sent chan *sns.PublishInput
}

func (c *captureSMS) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	c.sent <- input
	return &sns.PublishOutput{}, nil
}

func enabledConfig() config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.Email.Enabled = true
	cfg.Email.FromEmail = "billing@example.com"
	cfg.SMS.Enabled = true
	return cfg
}

func billingEvent() Event {
	return Event{
		Type:          EventInvoiceIssued,
		EntityID:      "org-1",
		Email:         "member@example.org",
		PhoneNumber:   "+15550100",
		InvoiceNumber: "INV-2026-09-0001",
		AmountCents:   1200,
		Currency:      "EUR",
	}
}

func TestAWSDispatcher_DeliversToBothChannels(t *testing.T) {
	email := &captureEmail{sent: make(chan *ses.SendEmailInput, 1)}
	sms := &captureSMS{sent: make(chan *sns.PublishInput, 1)}
	d := NewAWSDispatcher(email, sms, enabledConfig(), logger.NewTestLogger(t))

	d.Dispatch(billingEvent())

	select {
	case input := <-email.sent:
		require.NotNil(t, input.Destination)
		assert.Equal(t, []string{"member@example.org"}, input.Destination.ToAddresses)
		assert.Equal(t, "billing@example.com", *input.Source)
		assert.Contains(t, *input.Message.Subject.Data, "INV-2026-09-0001")
	case <-time.After(2 * time.Second):
		t.Fatal("email was never sent")
	}

	select {
	case input := <-sms.sent:
		assert.Equal(t, "+15550100", *input.PhoneNumber)
		assert.Contains(t, *input.Message, "EUR 12.00")
	case <-time.After(2 * time.Second):
		t.Fatal("sms was never sent")
	}
}

func TestAWSDispatcher_SkipsChannelsWithoutRecipient(t *testing.T) {
	email := &captureEmail{sent: make(chan *ses.SendEmailInput, 1)}
	sms := &captureSMS{sent: make(chan *sns.PublishInput, 1)}
	d := NewAWSDispatcher(email, sms, enabledConfig(), logger.NewTestLogger(t))

	ev := billingEvent()
	ev.Email = ""
	ev.PhoneNumber = ""
	d.Dispatch(ev)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, email.sent)
	assert.Empty(t, sms.sent)
}

func TestRenderMessage_AmountFormatting(t *testing.T) {
	ev := billingEvent()
	ev.Type = EventPaymentFailed
	subject, body := renderMessage(ev)
	assert.Equal(t, "Payment failed", subject)
	assert.Contains(t, body, "EUR 12.00")
	assert.Contains(t, body, "INV-2026-09-0001")
}
