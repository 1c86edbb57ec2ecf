// Package notification emails operators about decisions that need a human:
// an alert when a review is queued and a periodic digest of everything
// still pending.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
)

// Mailer delivers operator notifications.
type Mailer interface {
	SendReviewAlert(ctx context.Context, leadID, decisionID, reason, message string) error
	SendReviewDigest(ctx context.Context, items []repository.ReviewItem) error
}

// NoopMailer is used when SMTP is not configured.
type NoopMailer struct{}

func (NoopMailer) SendReviewAlert(context.Context, string, string, string, string) error {
	return nil
}

func (NoopMailer) SendReviewDigest(context.Context, []repository.ReviewItem) error {
	return nil
}

// SMTPMailer delivers over a direct SMTP connection via go-mail.
type SMTPMailer struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
}

func NewMailer(cfg config.SMTPConfig) Mailer {
	if !cfg.IsSMTPEnabled() || len(cfg.GetReviewRecipients()) == 0 {
		return NoopMailer{}
	}

	return &SMTPMailer{
		host:       cfg.GetSMTPHost(),
		port:       cfg.GetSMTPPort(),
		username:   cfg.GetSMTPUsername(),
		password:   cfg.GetSMTPPassword(),
		from:       cfg.GetSMTPFrom(),
		recipients: cfg.GetReviewRecipients(),
	}
}

var alertTemplate = template.Must(template.New("alert").Parse(`
<h2>Decisão aguardando revisão</h2>
<p><strong>Lead:</strong> {{.LeadID}}</p>
<p><strong>Decisão:</strong> {{.DecisionID}}</p>
<p><strong>Motivo:</strong> {{.Reason}}</p>
<blockquote>{{.Message}}</blockquote>
`))

var digestTemplate = template.Must(template.New("digest").Parse(`
<h2>Revisões pendentes ({{len .}})</h2>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Lead</th><th>Decisão</th><th>Motivo</th><th>Recebida</th></tr>
{{range .}}<tr>
<td>{{.LeadID}}</td><td>{{.DecisionID}}</td><td>{{.Reason}}</td><td>{{.CreatedAt.Format "02/01 15:04"}}</td>
</tr>{{end}}
</table>
`))

type alertData struct {
	LeadID     string
	DecisionID string
	Reason     string
	Message    string
}

func (m *SMTPMailer) SendReviewAlert(ctx context.Context, leadID, decisionID, reason, message string) error {
	var body bytes.Buffer
	if err := alertTemplate.Execute(&body, alertData{
		LeadID:     leadID,
		DecisionID: decisionID,
		Reason:     reason,
		Message:    message,
	}); err != nil {
		return fmt.Errorf("render review alert: %w", err)
	}

	subject := fmt.Sprintf("[leadflow] revisão pendente: %s", reason)
	return m.send(ctx, subject, body.String())
}

func (m *SMTPMailer) SendReviewDigest(ctx context.Context, items []repository.ReviewItem) error {
	if len(items) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := digestTemplate.Execute(&body, items); err != nil {
		return fmt.Errorf("render review digest: %w", err)
	}

	subject := fmt.Sprintf("[leadflow] %d revisões pendentes", len(items))
	return m.send(ctx, subject, body.String())
}

func (m *SMTPMailer) send(ctx context.Context, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.recipients...); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
