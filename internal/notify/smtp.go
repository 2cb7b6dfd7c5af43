package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Logger   *zap.Logger
}

// SMTPSender delivers messages over SMTP with an HTML body and a plain-text alternative.
type SMTPSender struct {
	config SMTPConfig
	logger *zap.Logger
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{config: cfg, logger: logger}, nil
}

func (s *SMTPSender) Send(ctx context.Context, message Message) error {
	msg, err := buildMailMessage(message)
	if err != nil {
		return err
	}
	options := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if s.config.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}
	client, err := mail.NewClient(s.config.Host, options...)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.Warn("smtp delivery failed", zap.String("host", s.config.Host), zap.Error(err))
		return fmt.Errorf("notify: smtp send: %w", err)
	}
	return nil
}

func buildMailMessage(message Message) (*mail.Msg, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}
	msg := mail.NewMsg()
	if err := msg.From(message.From); err != nil {
		return nil, fmt.Errorf("notify: invalid sender address: %w", err)
	}
	if err := msg.To(message.To); err != nil {
		return nil, fmt.Errorf("notify: invalid recipient address: %w", err)
	}
	msg.Subject(message.Subject)
	switch {
	case message.Text != "" && message.HTML != "":
		msg.SetBodyString(mail.TypeTextPlain, message.Text)
		msg.AddAlternativeString(mail.TypeTextHTML, message.HTML)
	case message.HTML != "":
		msg.SetBodyString(mail.TypeTextHTML, message.HTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, message.Text)
	}
	return msg, nil
}
