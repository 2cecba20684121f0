package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/wneessen/go-mail"

	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/BradenHooton/totpguard/pkg/logger"
)

// Mailer delivers the forgot-2FA recovery email
type Mailer interface {
	SendRecoveryEmail(ctx context.Context, to string, link *models.SignedLink) error
}

const recoverySubject = "Reset your two-factor authentication"

var recoveryHTML = htmltemplate.Must(htmltemplate.New("recovery.html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Reset two-factor authentication</h1>
        <p>Someone asked to switch off two-factor authentication for your account because the authenticator app is no longer available.</p>
        <p><a href="{{.URL}}" class="button">Disable two-factor authentication</a></p>
        <p>Or copy and paste this link in your browser:<br><code>{{.URL}}</code></p>
        <div class="warning"><strong>Security notice:</strong> {{.Expiration}}</div>
        <p>After following the link you will be signed out. Sign in again and set up a new authenticator.</p>
        <p><strong>Didn't ask for this?</strong><br>Ignore this email. Your two-factor settings stay unchanged.</p>
        <div class="footer"><p>This is an automated message. Please do not reply to this email.</p></div>
    </div>
</body>
</html>
`))

var recoveryText = texttemplate.Must(texttemplate.New("recovery.txt").Parse(`Reset two-factor authentication

Someone asked to switch off two-factor authentication for your account because the authenticator app is no longer available.

Open this link to disable two-factor authentication:
{{.URL}}

Security notice: {{.Expiration}}

After following the link you will be signed out. Sign in again and set up a new authenticator.

Didn't ask for this? Ignore this email. Your two-factor settings stay unchanged.
`))

type recoveryEmailData struct {
	URL        string
	Expiration string
}

// renderRecoveryEmail returns the HTML and plain text bodies
func renderRecoveryEmail(link *models.SignedLink) (string, string, error) {
	if link == nil || link.URL == "" {
		return "", "", fmt.Errorf("recovery email requires a link")
	}
	data := recoveryEmailData{URL: link.URL, Expiration: link.ExpirationMessage()}

	var htmlBody, textBody bytes.Buffer
	if err := recoveryHTML.Execute(&htmlBody, data); err != nil {
		return "", "", fmt.Errorf("failed to render html body: %w", err)
	}
	if err := recoveryText.Execute(&textBody, data); err != nil {
		return "", "", fmt.Errorf("failed to render text body: %w", err)
	}
	return htmlBody.String(), textBody.String(), nil
}

// sesAPI is the part of the SES client the mailer needs
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends emails using AWS SES
type SESMailer struct {
	sesClient   sesAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESMailer creates a new AWS SES mailer
func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendRecoveryEmail sends the signed recovery link
func (s *SESMailer) SendRecoveryEmail(ctx context.Context, to string, link *models.SignedLink) error {
	htmlBody, textBody, err := renderRecoveryEmail(link)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(recoverySubject),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send recovery email via SES",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "recovery email sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// SMTPConfig configures SMTPMailer
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS mandates STARTTLS; without it TLS is opportunistic
	TLS bool
}

// smtpSender is the part of the go-mail client the mailer needs
type smtpSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer sends emails through an SMTP relay
type SMTPMailer struct {
	client smtpSender
	from   string
	logger *slog.Logger
}

// NewSMTPMailer creates a new SMTP mailer
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &SMTPMailer{client: client, from: cfg.From, logger: logger}, nil
}

// SendRecoveryEmail sends the signed recovery link
func (s *SMTPMailer) SendRecoveryEmail(ctx context.Context, to string, link *models.SignedLink) error {
	msg, err := s.buildMessage(to, link)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to send recovery email via SMTP",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "recovery email sent",
		slog.String("email", logger.SanitizedEmail(to)))
	return nil
}

func (s *SMTPMailer) buildMessage(to string, link *models.SignedLink) (*mail.Msg, error) {
	htmlBody, textBody, err := renderRecoveryEmail(link)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(recoverySubject)
	msg.SetImportance(mail.ImportanceHigh)
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}
