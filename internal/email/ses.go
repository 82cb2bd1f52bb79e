package email

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService handles sending emails via AWS SES
type EmailService struct {
	client    *ses.Client
	fromEmail string
	fromName  string
	baseURL   string
}

// NewEmailService creates a new email service using AWS SES
func NewEmailService(region, fromEmail, fromName, baseURL string) (*EmailService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := ses.NewFromConfig(cfg)

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   baseURL,
	}, nil
}

const htmlStyle = `
	body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
	.container { max-width: 600px; margin: 0 auto; padding: 20px; }
	.button { display: inline-block; padding: 12px 24px; background-color: #4f46e5; color: white; text-decoration: none; border-radius: 6px; margin: 20px 0; }
	.button:hover { background-color: #4338ca; }
`

func wrapHTML(body string) string {
	return fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="UTF-8">
			<style>%s</style>
		</head>
		<body>
			<div class="container">
				%s
				<hr>
				<p style="color: #999; font-size: 12px;">This is an automated message from ReviewInsight.</p>
			</div>
		</body>
		</html>
	`, htmlStyle, body)
}

// SendPasswordResetEmail sends a password reset email with the reset token
func (e *EmailService) SendPasswordResetEmail(ctx context.Context, toEmail, resetToken string) error {
	// The web app extracts the token and calls POST /api/v1/auth/reset-password/confirm
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", e.baseURL, resetToken)

	htmlBody := wrapHTML(fmt.Sprintf(`
		<h1>Reset Your Password</h1>
		<p>You requested to reset your password for your ReviewInsight account.</p>
		<p>Click the button below to reset your password. This link will expire in 1 hour.</p>
		<a href="%s" class="button">Reset Password</a>
		<p>Or copy and paste this link into your browser:</p>
		<p style="word-break: break-all; color: #666;">%s</p>
		<p>If you didn't request this password reset, you can safely ignore this email.</p>
	`, resetURL, resetURL))

	textBody := fmt.Sprintf(`
Reset Your ReviewInsight Password

You requested to reset your password for your ReviewInsight account.

Click the link below to reset your password. This link will expire in 1 hour.

%s

If you didn't request this password reset, you can safely ignore this email.
	`, resetURL)

	if err := e.send(ctx, toEmail, "Reset Your ReviewInsight Password", htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

// SendVerificationEmail sends the email address verification link for a new
// account
func (e *EmailService) SendVerificationEmail(ctx context.Context, toEmail, verifyToken string) error {
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", e.baseURL, verifyToken)

	htmlBody := wrapHTML(fmt.Sprintf(`
		<h1>Verify Your Email</h1>
		<p>Welcome to ReviewInsight. Confirm your email address to finish setting up your account.</p>
		<a href="%s" class="button">Verify Email</a>
		<p>Or copy and paste this link into your browser:</p>
		<p style="word-break: break-all; color: #666;">%s</p>
	`, verifyURL, verifyURL))

	textBody := fmt.Sprintf(`
Verify Your Email

Welcome to ReviewInsight. Confirm your email address to finish setting up your account.

%s
	`, verifyURL)

	if err := e.send(ctx, toEmail, "Verify your ReviewInsight email", htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

// SendReportReadyEmail notifies the user that an analysis report finished
func (e *EmailService) SendReportReadyEmail(ctx context.Context, toEmail, appName, taskID string) error {
	reportURL := fmt.Sprintf("%s/reports/%s", e.baseURL, taskID)

	htmlBody := wrapHTML(fmt.Sprintf(`
		<h1>Your Report Is Ready</h1>
		<p>The review analysis for <strong>%s</strong> has finished.</p>
		<a href="%s" class="button">View Report</a>
		<p style="word-break: break-all; color: #666;">%s</p>
	`, appName, reportURL, reportURL))

	textBody := fmt.Sprintf(`
Your Report Is Ready

The review analysis for %s has finished.

%s
	`, appName, reportURL)

	subject := fmt.Sprintf("Your review report for %s is ready", appName)
	if err := e.send(ctx, toEmail, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send report ready email: %w", err)
	}
	return nil
}

// SendSubscriptionReceiptEmail confirms a plan change after checkout
func (e *EmailService) SendSubscriptionReceiptEmail(ctx context.Context, toEmail, planName string, priceCents int) error {
	htmlBody := wrapHTML(fmt.Sprintf(`
		<h1>Subscription Confirmed</h1>
		<p>Your ReviewInsight subscription is now on the <strong>%s</strong> plan at $%.2f/month.</p>
		<p>Manage your subscription any time from your billing settings.</p>
	`, planName, float64(priceCents)/100))

	textBody := fmt.Sprintf(`
Subscription Confirmed

Your ReviewInsight subscription is now on the %s plan at $%.2f/month.

Manage your subscription any time from your billing settings.
	`, planName, float64(priceCents)/100)

	subject := fmt.Sprintf("Welcome to ReviewInsight %s", planName)
	if err := e.send(ctx, toEmail, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send receipt email: %w", err)
	}
	return nil
}

func (e *EmailService) send(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	from := e.fromEmail
	if e.fromName != "" {
		from = fmt.Sprintf("%s <%s>", e.fromName, e.fromEmail)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	_, err := e.client.SendEmail(ctx, input)
	return err
}
