package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	texttmpl "text/template"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/campushub/thesis-api/pkg/config"
)

// MailTemplate identifies a notification template. Every template lists
// the fields its body consumes; rendering fails on a missing field
// instead of silently emitting blanks.
type MailTemplate string

const (
	MailApplicationReceived    MailTemplate = "application-received"
	MailApplicationAccepted    MailTemplate = "application-accepted"
	MailApplicationRejected    MailTemplate = "application-rejected"
	MailThesisStateChanged     MailTemplate = "thesis-state-changed"
	MailThesisCommentPosted    MailTemplate = "thesis-comment-posted"
	MailPresentationScheduled  MailTemplate = "presentation-scheduled"
	MailPresentationDeleted    MailTemplate = "presentation-deleted"
	MailPresentationInvitation MailTemplate = "presentation-invitation"
)

type mailDefinition struct {
	subject string
	body    string
	fields  []string
}

// Each definition maps template fields by name. Callers populate the
// exact set; there is no struct reflection between domain types and
// template data.
var mailDefinitions = map[MailTemplate]mailDefinition{
	MailApplicationReceived: {
		subject: "Application received: {{.title}}",
		body: `Dear {{.recipientName}},

we received a thesis application for "{{.title}}" ({{.thesisType}}).
You can review it in the application board.
`,
		fields: []string{"recipientName", "title", "thesisType"},
	},
	MailApplicationAccepted: {
		subject: "Your application was accepted",
		body: `Dear {{.recipientName}},

your application for "{{.title}}" has been accepted. A thesis has been
created for you and your advisor will be in touch.
`,
		fields: []string{"recipientName", "title"},
	},
	MailApplicationRejected: {
		subject: "Your application was rejected",
		body: `Dear {{.recipientName}},

your application for "{{.title}}" has been rejected.
Reason: {{.reason}}
{{if .comment}}
Comment from the reviewer:
{{.comment}}
{{end}}`,
		fields: []string{"recipientName", "title", "reason", "comment"},
	},
	MailThesisStateChanged: {
		subject: "Thesis update: {{.title}}",
		body: `Dear {{.recipientName}},

the thesis "{{.title}}" moved to state {{.state}}.
`,
		fields: []string{"recipientName", "title", "state"},
	},
	MailThesisCommentPosted: {
		subject: "New comment on {{.title}}",
		body: `Dear {{.recipientName}},

{{.authorName}} commented on the thesis "{{.title}}":

{{.message}}
`,
		fields: []string{"recipientName", "title", "authorName", "message"},
	},
	MailPresentationScheduled: {
		subject: "Presentation scheduled: {{.title}}",
		body: `Dear {{.recipientName}},

the {{.presentationType}} presentation for "{{.title}}" is scheduled
on {{.scheduledAt}} at {{.location}}.
`,
		fields: []string{"recipientName", "title", "presentationType", "scheduledAt", "location"},
	},
	MailPresentationDeleted: {
		subject: "Presentation cancelled: {{.title}}",
		body: `Dear {{.recipientName}},

the presentation for "{{.title}}" on {{.scheduledAt}} was cancelled.
`,
		fields: []string{"recipientName", "title", "scheduledAt"},
	},
	MailPresentationInvitation: {
		subject: "Invitation: thesis presentation on {{.scheduledAt}}",
		body: `Hello,

you are invited to the {{.presentationType}} presentation of
"{{.title}}" on {{.scheduledAt}} at {{.location}}.
`,
		fields: []string{"title", "presentationType", "scheduledAt", "location"},
	},
}

// MailAttachment carries an already-encoded attachment.
type MailAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// MailMessage is a templated notification addressed to plain email
// addresses.
type MailMessage struct {
	To          []string
	Template    MailTemplate
	Fields      map[string]string
	Attachments []MailAttachment
}

// RenderMail resolves the template into subject and body. Unknown
// templates and missing fields are errors so broken notifications fail
// loudly in logs rather than reaching inboxes half-empty.
func RenderMail(msg MailMessage) (subject, body string, err error) {
	def, ok := mailDefinitions[msg.Template]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", msg.Template)
	}
	for _, field := range def.fields {
		if _, ok := msg.Fields[field]; !ok {
			return "", "", fmt.Errorf("mail template %q missing field %q", msg.Template, field)
		}
	}
	subject, err = renderTemplate(string(msg.Template)+"-subject", def.subject, msg.Fields)
	if err != nil {
		return "", "", err
	}
	body, err = renderTemplate(string(msg.Template)+"-body", def.body, msg.Fields)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func renderTemplate(name, text string, fields map[string]string) (string, error) {
	tmpl, err := texttmpl.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse mail template %s: %w", name, err)
	}
	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, fields); err != nil {
		return "", fmt.Errorf("render mail template %s: %w", name, err)
	}
	return buff.String(), nil
}

// Mailer delivers rendered notifications.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridMailer delivers mail through the Sendgrid v3 API.
type SendgridMailer struct {
	cfg    config.MailConfig
	from   *sgmail.Email
	logger *zap.Logger
}

// NewSendgridMailer constructs a Sendgrid-backed mailer.
func NewSendgridMailer(cfg config.MailConfig, logger *zap.Logger) *SendgridMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendgridMailer{
		cfg:    cfg,
		from:   sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		logger: logger,
	}
}

// Send renders and posts the message, retrying transient failures.
func (m *SendgridMailer) Send(ctx context.Context, msg MailMessage) error {
	if len(msg.To) == 0 {
		return nil
	}
	subject, body, err := RenderMail(msg)
	if err != nil {
		return err
	}

	p := sgmail.NewPersonalization()
	p.Subject = m.cfg.SubjectPrefix + subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail("", to))
	}

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", body))
	for _, at := range msg.Attachments {
		v3.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(at.Content),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}

	attempts := m.cfg.WorkerRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req := sendgrid.GetRequest(m.cfg.SendgridKey, sendgridEndpoint, sendgridHost)
		req.Method = http.MethodPost
		req.Body = sgmail.GetRequestBody(v3)

		res, err := sendgrid.MakeRequestWithContext(ctx, req)
		if err == nil && res.StatusCode < http.StatusBadRequest {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
		}
		m.logger.Warn("mail delivery attempt failed",
			zap.String("template", string(msg.Template)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	return fmt.Errorf("send mail %s: %w", msg.Template, lastErr)
}

// ConsoleMailer logs rendered messages instead of delivering them. Used
// in development and as the fallback when no Sendgrid key is set.
type ConsoleMailer struct {
	prefix string
	logger *zap.Logger
}

// NewConsoleMailer constructs the console mailer.
func NewConsoleMailer(cfg config.MailConfig, logger *zap.Logger) *ConsoleMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleMailer{prefix: cfg.SubjectPrefix, logger: logger}
}

// Send renders the message and writes it to the log.
func (m *ConsoleMailer) Send(_ context.Context, msg MailMessage) error {
	subject, body, err := RenderMail(msg)
	if err != nil {
		return err
	}
	m.logger.Info("mail (console delivery)",
		zap.String("to", strings.Join(msg.To, ", ")),
		zap.String("subject", m.prefix+subject),
		zap.String("body", body),
		zap.Int("attachments", len(msg.Attachments)))
	return nil
}

// NewMailer picks the Sendgrid transport when a key is configured and
// falls back to console delivery otherwise.
func NewMailer(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.SendgridKey != "" {
		return NewSendgridMailer(cfg, logger)
	}
	return NewConsoleMailer(cfg, logger)
}
