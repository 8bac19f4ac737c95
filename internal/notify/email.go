package notify

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
)

// ReportSummary is the digest sent after a scheduled check completes.
type ReportSummary struct {
	Subdomain      string
	ReportID       int64
	TotalIssues    int
	CriticalIssues int
	WarningIssues  int
	CheckedAt      time.Time
}

type Sender interface {
	SendReportSummary(recipients []string, summary ReportSummary) error
}

// Mailer delivers notification emails over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

func NewMailer(cfg config.SMTPConfig, logger *zap.Logger) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

func (m *Mailer) SendReportSummary(recipients []string, summary ReportSummary) error {
	if len(recipients) == 0 {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", fmt.Sprintf("Healthcheck Report for %s.zendesk.com", summary.Subdomain))
	msg.SetBody("text/html", summaryBody(summary))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send report email: %w", err)
	}

	m.logger.Info("report notification sent",
		zap.String("subdomain", summary.Subdomain),
		zap.Int64("report_id", summary.ReportID),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

func summaryBody(s ReportSummary) string {
	var b strings.Builder
	b.WriteString("<h2>Zendesk Healthcheck Results</h2>")
	fmt.Fprintf(&b, "<p>Your scheduled health check for <strong>%s.zendesk.com</strong> completed on %s.</p>",
		s.Subdomain, s.CheckedAt.Format("02 Jan 2006 15:04 MST"))
	b.WriteString("<ul>")
	fmt.Fprintf(&b, "<li>Total issues: %d</li>", s.TotalIssues)
	fmt.Fprintf(&b, "<li>Critical: %d</li>", s.CriticalIssues)
	fmt.Fprintf(&b, "<li>Warnings: %d</li>", s.WarningIssues)
	b.WriteString("</ul>")
	fmt.Fprintf(&b, "<p>Open the Healthcheck app in Zendesk to review the full report (report #%d).</p>", s.ReportID)
	return b.String()
}
