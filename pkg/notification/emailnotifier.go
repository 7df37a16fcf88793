package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/oldrev/weixin-auth/pkg/account"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the outbound mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
}

// EmailNotifier sends operational notices over SMTP. Sends are best
// effort; the authorization flow logs failures and continues.
type EmailNotifier struct {
	client *mail.Client
	from   string
	to     string
}

// NewEmailNotifier creates a notifier delivering to the given ops address
func NewEmailNotifier(config SMTPConfig, opsAddress string) (*EmailNotifier, error) {
	if opsAddress == "" {
		return nil, fmt.Errorf("notification requires a destination address")
	}

	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if !config.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.NoTLS),
		)
	} else {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &EmailNotifier{client: client, from: config.From, to: opsAddress}, nil
}

// AccountRegistered notifies the ops address about an auto-registered
// external account.
func (n *EmailNotifier) AccountRegistered(ctx context.Context, acct *account.Account, displayName string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(n.to); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}

	msg.Subject("New Weixin account registered")
	body := fmt.Sprintf("A new account was auto-registered via Weixin login.\n\nAccount ID: %s\nUsername: %s\n", acct.ID, acct.Username)
	if displayName != "" {
		body += fmt.Sprintf("Display name: %s\n", displayName)
	}
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send registration notice: %w", err)
	}

	slog.Info("Registration notice sent", "account_id", acct.ID, "to", n.to)
	return nil
}
