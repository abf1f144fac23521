package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSenderNilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "care@curalink.test"}, nil))
}

func TestNewSendGridSenderFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "care@curalink.test"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "CuraLink", sender.fromName)

	sender = NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "care@curalink.test", FromName: "Clinic Desk"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Clinic Desk", sender.fromName)
}

func TestSendGridSenderWithoutClient(t *testing.T) {
	var sender *SendGridSender
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "pat@example.com"}))
	assert.Error(t, (&SendGridSender{}).Send(context.Background(), EmailMessage{To: "pat@example.com"}))
}

func TestStubEmailSender(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "pat@example.com", Subject: "hi"}))
}

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSenderBuildsMessage(t *testing.T) {
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "care@curalink.test"}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "pat@example.com", Subject: "Appointment confirmed", Body: "See you soon", HTML: "<p>See you soon</p>"})
	require.NoError(t, err)
	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "CuraLink <care@curalink.test>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"pat@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Appointment confirmed", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "See you soon", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>See you soon</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
}

func TestSESSenderErrors(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))

	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "care@curalink.test"}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "pat@example.com", Subject: "x", Body: "y"})
	assert.ErrorContains(t, err, "throttled")
}
