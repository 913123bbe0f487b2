package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	AppName     string
	FrontendURL string
	Timeout     time.Duration
}

type sender func(ctx context.Context, msg *gomail.Msg) error

// SMTPNotifier sends the reset mail through an SMTP relay.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger logging.Logger
	send   sender
}

func NewSMTPNotifier(cfg SMTPConfig, logger logging.Logger) (*SMTPNotifier, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &SMTPNotifier{
		cfg:    cfg,
		logger: logger.With("module", "mail"),
		send: func(ctx context.Context, msg *gomail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

func (n *SMTPNotifier) buildMessage(to string, userID int64, token, displayName string) (*gomail.Msg, error) {
	body, err := RenderReset(n.cfg.AppName, displayName, ResetLink(n.cfg.FrontendURL, userID, token))
	if err != nil {
		return nil, err
	}

	msg := gomail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(Subject(n.cfg.AppName))
	msg.SetBodyString(gomail.TypeTextHTML, body)
	return msg, nil
}

func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to string, userID int64, token, displayName string) error {
	msg, err := n.buildMessage(to, userID, token, displayName)
	if err != nil {
		return err
	}
	if err := n.send(ctx, msg); err != nil {
		n.logger.Error(ctx, "password reset mail delivery failed", "to", to, "error", err)
		return fmt.Errorf("send reset mail: %w", err)
	}
	n.logger.Info(ctx, "password reset mail sent", "to", to)
	return nil
}
