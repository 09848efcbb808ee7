// Package notify adapts the notifx email client into the admin-alert sink
// the orchestrator escalates through. Alerts are best-effort: a failed send
// is logged and dropped, never retried, and never gates pipeline progress.
package notify

import (
	"context"
	"html/template"

	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
	"github.com/Abraxas-365/inboxcore/pkg/notifx"
)

const alertTemplateName = "admin_alert"

const alertTemplate = `<html><body>
<h3>{{.Subject}}</h3>
{{.Body}}
<hr><p style="color:#888">inboxcore ingestion service</p>
</body></html>`

// AlertSink implements ports.Notifier on top of a notifx.Client.
type AlertSink struct {
	client     *notifx.Client
	from       string
	recipients []string
}

var _ ports.Notifier = (*AlertSink)(nil)

func NewAlertSink(client *notifx.Client, from string, recipients []string) *AlertSink {
	if err := client.RegisterTemplate(alertTemplateName, alertTemplate); err != nil {
		logx.WithError(err).Error("notify: alert template failed to parse")
	}
	return &AlertSink{client: client, from: from, recipients: recipients}
}

// Body is trusted markup produced by our own escalation paths, never
// user input.
type alertData struct {
	Subject string
	Body    template.HTML
}

// SendAdminAlert sends a formatted alert email to the configured admin
// recipients. With no recipients configured the alert is logged only.
func (s *AlertSink) SendAdminAlert(ctx context.Context, subject, htmlBody string) error {
	if len(s.recipients) == 0 {
		logx.Warnf("notify: admin alert dropped (no recipients configured): %s", subject)
		return nil
	}

	err := s.client.SendTemplatedEmail(ctx, alertTemplateName,
		alertData{Subject: subject, Body: template.HTML(htmlBody)},
		notifx.EmailMessage{
			From:    s.from,
			To:      s.recipients,
			Subject: subject,
		})
	if err != nil {
		logx.WithError(err).Errorf("notify: admin alert send failed: %s", subject)
	}
	return err
}
