package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	channel    models.Channel
	configured bool
	sendErr    error

	sentTo      []string
	sentSubject string
	sentBody    string
	sentAlert   notify.AlertContext
}

func (f *fakeNotifier) Channel() models.Channel { return f.channel }
func (f *fakeNotifier) IsConfigured() bool      { return f.configured }

func (f *fakeNotifier) Send(_ context.Context, recipient, subject, body string, alert notify.AlertContext) error {
	f.sentTo = append(f.sentTo, recipient)
	f.sentSubject = subject
	f.sentBody = body
	f.sentAlert = alert
	return f.sendErr
}

func strPtr(s string) *string { return &s }

func sampleRule() *models.AlertRule {
	return &models.AlertRule{
		ID:          7,
		ProductID:   3,
		TargetPrice: decimal.RequireFromString("100.00"),
		Email:       strPtr("user@example.com"),
		Phone:       strPtr("+15551234567"),
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
}

func sampleProduct() *models.TrackedProduct {
	return &models.TrackedProduct{
		ID:     3,
		Name:   "Mechanical Keyboard",
		URL:    "https://example.com/kb",
		Active: true,
	}
}

func sampleObservation() *models.PriceObservation {
	return &models.PriceObservation{
		ID:         42,
		ProductID:  3,
		Price:      decimal.RequireFromString("89.99"),
		Currency:   "USD",
		InStock:    true,
		ObservedAt: time.Now(),
	}
}

func TestDispatch_OnlyConfiguredChannelsInOutcome(t *testing.T) {
	email := &fakeNotifier{channel: models.ChannelEmail, configured: true}
	sms := &fakeNotifier{channel: models.ChannelSMS, configured: false}
	d := notify.NewDispatcher(email, sms)

	out := d.Dispatch(context.Background(), sampleRule(), sampleProduct(), sampleObservation())

	require.Len(t, out, 1)
	require.True(t, out[models.ChannelEmail].OK)
	_, hasSMS := out[models.ChannelSMS]
	require.False(t, hasSMS, "unconfigured channel must be skipped, not reported")
	require.Equal(t, []string{"user@example.com"}, email.sentTo)
	require.Empty(t, sms.sentTo)
}

func TestDispatch_FailureDoesNotStopOtherChannels(t *testing.T) {
	email := &fakeNotifier{channel: models.ChannelEmail, configured: true, sendErr: errors.New("smtp down")}
	sms := &fakeNotifier{channel: models.ChannelSMS, configured: true}
	d := notify.NewDispatcher(email, sms)

	out := d.Dispatch(context.Background(), sampleRule(), sampleProduct(), sampleObservation())

	require.Len(t, out, 2)
	require.False(t, out[models.ChannelEmail].OK)
	require.Contains(t, out[models.ChannelEmail].Error, "smtp down")
	require.True(t, out[models.ChannelSMS].OK)
	require.Equal(t, []string{"+15551234567"}, sms.sentTo)
}

func TestDispatch_BuildsAlertContextFromObservation(t *testing.T) {
	email := &fakeNotifier{channel: models.ChannelEmail, configured: true}
	d := notify.NewDispatcher(email)

	rule := sampleRule()
	rule.Phone = nil
	product := sampleProduct()
	obs := sampleObservation()

	out := d.Dispatch(context.Background(), rule, product, obs)

	require.True(t, out[models.ChannelEmail].OK)
	require.Equal(t, "Mechanical Keyboard", email.sentAlert.ProductName)
	require.Equal(t, "https://example.com/kb", email.sentAlert.ProductURL)
	require.True(t, email.sentAlert.CurrentPrice.Equal(obs.Price))
	require.True(t, email.sentAlert.TargetPrice.Equal(rule.TargetPrice))
	require.Contains(t, email.sentSubject, "Mechanical Keyboard")
	require.Contains(t, email.sentBody, "89.99")
	require.Contains(t, email.sentBody, "100.00")
	require.Contains(t, email.sentBody, product.URL)
}

func TestDispatch_RuleWithNoEndpoints(t *testing.T) {
	email := &fakeNotifier{channel: models.ChannelEmail, configured: true}
	d := notify.NewDispatcher(email)

	rule := sampleRule()
	rule.Email = nil
	rule.Phone = nil

	out := d.Dispatch(context.Background(), rule, sampleProduct(), sampleObservation())
	require.Empty(t, out)
	require.Empty(t, email.sentTo)
}

func TestSendTest(t *testing.T) {
	email := &fakeNotifier{channel: models.ChannelEmail, configured: true}
	sms := &fakeNotifier{channel: models.ChannelSMS, configured: false}
	d := notify.NewDispatcher(email, sms)

	err := d.SendTest(context.Background(), models.ChannelEmail, "user@example.com", "ping")
	require.NoError(t, err)
	require.Equal(t, []string{"user@example.com"}, email.sentTo)
	require.Equal(t, "ping", email.sentBody)

	err = d.SendTest(context.Background(), models.ChannelSMS, "+15550000000", "ping")
	var notConfigured *notify.NotConfiguredError
	require.ErrorAs(t, err, &notConfigured)

	err = d.SendTest(context.Background(), models.ChannelTelegram, "123", "ping")
	var unknown *notify.UnknownChannelError
	require.ErrorAs(t, err, &unknown)
}
