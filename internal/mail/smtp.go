// Package mail delivers verification codes by email.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const subject = "Email Verification Code"

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Brand appears in the subject line and the message header.
	Brand string
}

type SMTPMailer struct {
	cfg    Config
	logger zerolog.Logger
}

func NewSMTPMailer(cfg Config, logger zerolog.Logger) *SMTPMailer {
	if cfg.Brand == "" {
		cfg.Brand = "Academy"
	}
	return &SMTPMailer{cfg: cfg, logger: logger.With().Str("component", "mail").Logger()}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	body, err := renderOTP(m.cfg.Brand, code, ttl)
	if err != nil {
		return err
	}
	message := buildMessage(m.cfg.From, to, m.cfg.Brand+" | "+subject, body)

	if err := m.send(ctx, to, message); err != nil {
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	m.logger.Info().Str("to", to).Msg("verification email sent")
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, to, message string) error {
	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(parseAddress(m.cfg.From)); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// dial opens implicit TLS on 465 and upgrades with STARTTLS elsewhere when
// the server offers it.
func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	tlsConfig := &tls.Config{ServerName: m.cfg.Host}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if m.cfg.Port == 465 {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if m.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
	}
	return client, nil
}

var otpTemplate = template.Must(template.New("otp").Parse(`<html>
  <body style="margin:0;padding:0;background-color:#f4f6f8;font-family:Arial,Helvetica,sans-serif;">
    <table width="100%" cellpadding="0" cellspacing="0">
      <tr>
        <td align="center">
          <table width="500" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:30px;">
            <tr><td align="center" style="font-size:26px;font-weight:bold;color:#111;">{{.Brand}}</td></tr>
            <tr><td height="20"></td></tr>
            <tr><td style="font-size:16px;color:#333;text-align:center;">Your email verification code is</td></tr>
            <tr><td height="20"></td></tr>
            <tr>
              <td align="center">
                <div style="font-size:36px;font-weight:bold;letter-spacing:6px;color:#ffffff;background:#111;padding:15px 25px;border-radius:6px;display:inline-block;">{{.Code}}</div>
              </td>
            </tr>
            <tr><td height="20"></td></tr>
            <tr>
              <td style="font-size:14px;color:#666;text-align:center;">
                This code will expire in <b>{{.Expiry}}</b>.<br>
                If you didn't request this, please ignore this email.
              </td>
            </tr>
          </table>
        </td>
      </tr>
    </table>
  </body>
</html>
`))

func renderOTP(brand, code string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := otpTemplate.Execute(&buf, struct {
		Brand  string
		Code   string
		Expiry string
	}{brand, code, humanDuration(ttl)})
	if err != nil {
		return "", fmt.Errorf("mail: render template: %w", err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d.Round(time.Second)/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func buildMessage(from, to, subject, body string) string {
	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		body,
	}
	return strings.Join(headers, "\r\n")
}

func parseAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(from[start+1 : end])
	}
	return strings.TrimSpace(from)
}
