package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/thesis-api/pkg/config"
)

type chanMailer struct {
	delivered chan MailMessage
}

func (m *chanMailer) Send(_ context.Context, msg MailMessage) error {
	m.delivered <- msg
	return nil
}

func TestQueuedMailerDeliversInBackground(t *testing.T) {
	delegate := &chanMailer{delivered: make(chan MailMessage, 1)}
	mailer := NewQueuedMailer(delegate, config.MailConfig{}, nil, nil)
	mailer.Start(context.Background())
	defer mailer.Stop()

	msg := MailMessage{
		To:       []string{"student@example.com"},
		Template: MailApplicationAccepted,
		Fields:   map[string]string{"recipientName": "Ada Lovelace", "title": "Distributed consensus"},
	}
	require.NoError(t, mailer.Send(context.Background(), msg))

	select {
	case got := <-delegate.delivered:
		assert.Equal(t, msg.To, got.To)
		assert.Equal(t, MailApplicationAccepted, got.Template)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestQueuedMailerRejectsWhenStopped(t *testing.T) {
	delegate := &chanMailer{delivered: make(chan MailMessage, 1)}
	mailer := NewQueuedMailer(delegate, config.MailConfig{}, nil, nil)

	err := mailer.Send(context.Background(), MailMessage{Template: MailApplicationAccepted})
	require.Error(t, err)
}
