// Package notify e-mails a summary when a monitored crawl task finishes.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nadmax/crawlctl/internal/display"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Config struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          []string
	Logger      *zerolog.Logger
}

type sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type Mailer struct {
	client sender
	from   *mail.Email
	to     []*mail.Email
	logger zerolog.Logger
}

func NewMailer(cfg Config) (*Mailer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("sendgrid API key is required")
	}

	return newMailer(cfg, sendgrid.NewSendClient(cfg.APIKey))
}

func newMailer(cfg Config, client sender) (*Mailer, error) {
	if cfg.FromAddress == "" {
		return nil, errors.New("sender address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	to := make([]*mail.Email, 0, len(cfg.To))
	for _, addr := range cfg.To {
		to = append(to, mail.NewEmail("", addr))
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Mailer{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
		to:     to,
		logger: logger.With().Str("component", "mailer").Logger(),
	}, nil
}

// SendSummary mails the final state of a task to every recipient.
func (m *Mailer) SendSummary(s task.Snapshot) error {
	message := mail.NewV3Mail()
	message.SetFrom(m.from)
	message.Subject = Subject(s)

	p := mail.NewPersonalization()
	p.AddTos(m.to...)
	message.AddPersonalizations(p)

	body := display.Summary(s)
	message.AddContent(
		mail.NewContent("text/plain", body),
		mail.NewContent("text/html", "<pre>"+htmlEscape(body)+"</pre>"),
	)

	response, err := m.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d: %s", response.StatusCode, response.Body)
	}

	m.logger.Info().
		Str("task_id", s.TaskID).
		Int("recipients", len(m.to)).
		Int("status", response.StatusCode).
		Msg("summary email sent")

	return nil
}

func Subject(s task.Snapshot) string {
	switch s.Status {
	case task.StatusCompleted:
		return fmt.Sprintf("Crawl %s completed: %d shops", s.TaskID, s.TotalShops)
	case task.StatusFailed:
		return fmt.Sprintf("Crawl %s failed", s.TaskID)
	case task.StatusCancelled:
		return fmt.Sprintf("Crawl %s cancelled", s.TaskID)
	default:
		return fmt.Sprintf("Crawl %s: %s", s.TaskID, s.Status.Text())
	}
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func htmlEscape(s string) string {
	return htmlReplacer.Replace(s)
}
