package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/thesis-api/pkg/config"
)

func TestRenderMailRejected(t *testing.T) {
	subject, body, err := RenderMail(MailMessage{
		To:       []string{"student@example.com"},
		Template: MailApplicationRejected,
		Fields: map[string]string{
			"recipientName": "Ada Lovelace",
			"title":         "Distributed consensus",
			"reason":        "NO_CAPACITY",
			"comment":       "",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Your application was rejected", subject)
	assert.Contains(t, body, "Distributed consensus")
	assert.Contains(t, body, "NO_CAPACITY")
	assert.NotContains(t, body, "Comment from the reviewer")
}

func TestRenderMailMissingField(t *testing.T) {
	_, _, err := RenderMail(MailMessage{
		Template: MailApplicationAccepted,
		Fields:   map[string]string{"recipientName": "Ada Lovelace"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field")
}

func TestRenderMailUnknownTemplate(t *testing.T) {
	_, _, err := RenderMail(MailMessage{Template: MailTemplate("does-not-exist")})
	require.Error(t, err)
}

func TestConsoleMailerSend(t *testing.T) {
	mailer := NewConsoleMailer(config.MailConfig{SubjectPrefix: "[Test] "}, nil)
	err := mailer.Send(context.Background(), MailMessage{
		To:       []string{"student@example.com"},
		Template: MailApplicationReceived,
		Fields: map[string]string{
			"recipientName": "Ada Lovelace",
			"title":         "Distributed consensus",
			"thesisType":    "student",
		},
	})
	require.NoError(t, err)
}

func TestNewMailerPicksTransport(t *testing.T) {
	mailer := NewMailer(config.MailConfig{}, nil)
	_, isConsole := mailer.(*ConsoleMailer)
	assert.True(t, isConsole)

	mailer = NewMailer(config.MailConfig{SendgridKey: "sg-key"}, nil)
	_, isSendgrid := mailer.(*SendgridMailer)
	assert.True(t, isSendgrid)
}
