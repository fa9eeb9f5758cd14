// Package email sends workspace invitations over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
)

// ErrNotConfigured is returned when no SMTP server is set up.
var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// InviteData fills the invitation templates.
type InviteData struct {
	WorkspaceName string
	InviterName   string
	JoinCode      string
	JoinURL       string
}

// SendInvite mails a join code for a workspace to one address.
func (s *Service) SendInvite(to string, data InviteData) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	data.InviterName = sanitizeHeader(data.InviterName)
	data.WorkspaceName = sanitizeHeader(data.WorkspaceName)
	htmlBody, err := renderHTML(inviteHTMLTemplate, data)
	if err != nil {
		return fmt.Errorf("render invite html: %w", err)
	}
	textBody, err := renderText(inviteTextTemplate, data)
	if err != nil {
		return fmt.Errorf("render invite text: %w", err)
	}
	subject := fmt.Sprintf("%s invited you to %s on Huddle", data.InviterName, data.WorkspaceName)
	return s.sendMultipart([]string{to}, subject, textBody, htmlBody)
}

func (s *Service) sendMultipart(to []string, subject, textBody, htmlBody string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "huddle-invite-boundary"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// sanitizeHeader keeps user-supplied names on one line.
func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

func renderHTML(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(tmpl string, data any) (string, error) {
	t, err := texttemplate.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const inviteTextTemplate = `{{.InviterName}} invited you to join {{.WorkspaceName}} on Huddle.

Join here: {{.JoinURL}}
Or enter the code {{.JoinCode}} on the join page.`

const inviteHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.WorkspaceName}} on Huddle</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #4a154b; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .code { font-family: monospace; font-size: 20px; letter-spacing: 4px; }
    </style>
</head>
<body>
    <h2>{{.InviterName}} invited you to {{.WorkspaceName}}</h2>
    <p><a href="{{.JoinURL}}" class="button">Join workspace</a></p>
    <p>Or enter this code on the join page:</p>
    <p class="code">{{.JoinCode}}</p>
</body>
</html>`
