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
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "care@example.com"}, nil))
}

func TestNewSendGridSenderDefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "care@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Healify", sender.fromName)
}

func TestSendGridSenderWithoutClient(t *testing.T) {
	err := (&SendGridSender{}).Send(context.Background(), EmailMessage{To: "doc@example.com", Subject: "x"})
	assert.Error(t, err)
}

func TestLogEmailSenderNeverFails(t *testing.T) {
	assert.NoError(t, NewLogEmailSender(nil).Send(context.Background(), EmailMessage{Subject: "hi"}))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestNewSESSenderNilWithoutClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

func TestSESSenderBuildsMessage(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "care@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "doc@example.com", Subject: "New patient message", Body: "hello"})
	require.NoError(t, err)

	in := client.input
	require.NotNil(t, in)
	assert.Equal(t, "Healify <care@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"doc@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "New patient message", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "hello", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Nil(t, in.Content.Simple.Body.Html)
}

func TestSESSenderWrapsError(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	sender := NewSESSender(client, SESConfig{FromEmail: "care@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "doc@example.com", Subject: "x", Body: "y"})
	assert.ErrorContains(t, err, "throttled")
}
