package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/Dosada05/club-system/config"
)

//go:embed templates/emails/*.html
var emailTemplates embed.FS

// EmailService delivers notifications over SMTP. It implements Notifier.
type EmailService struct {
	cfg       *config.Config
	templates *template.Template
	send      func(to []string, msg []byte) error
}

func NewEmailService(cfg *config.Config) (*EmailService, error) {
	t, err := template.ParseFS(emailTemplates, "templates/emails/*.html")
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга шаблонов писем: %w", err)
	}
	s := &EmailService{cfg: cfg, templates: t}
	s.send = s.sendSMTP
	return s, nil
}

func buildMessage(to, from, subject, body string) []byte {
	return []byte("To: " + to + "\r\n" +
		"From: " + from + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n" +
		"\r\n" +
		body + "\r\n")
}

func (s *EmailService) SendEmail(to []string, subject string, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	return s.send(to, buildMessage(to[0], s.cfg.SMTPFrom, subject, body))
}

func (s *EmailService) sendSMTP(to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	tlsconfig := &tls.Config{ServerName: s.cfg.SMTPHost}

	var client *smtp.Client
	if s.cfg.SMTPPort == 465 {
		// Прямое TLS-соединение (обычно порт 465)
		conn, err := tls.Dial("tcp", addr, tlsconfig)
		if err != nil {
			return fmt.Errorf("ошибка TLS соединения: %w", err)
		}
		defer conn.Close()
		client, err = smtp.NewClient(conn, s.cfg.SMTPHost)
		if err != nil {
			return fmt.Errorf("ошибка создания SMTP клиента: %w", err)
		}
	} else {
		// STARTTLS (обычно порт 587)
		c, err := smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("ошибка соединения SMTP: %w", err)
		}
		client = c
		if err = client.StartTLS(tlsconfig); err != nil {
			client.Close()
			return fmt.Errorf("ошибка команды STARTTLS: %w", err)
		}
	}
	defer client.Quit()

	if s.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("ошибка аутентификации SMTP: %w", err)
		}
	}

	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("ошибка MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("ошибка RCPT TO: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("ошибка команды DATA: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("ошибка записи сообщения: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия DATA: %w", err)
	}
	return nil
}

func (s *EmailService) GenerateEmailBody(templateName string, data interface{}) (string, error) {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return "", fmt.Errorf("ошибка выполнения шаблона %s: %w", templateName, err)
	}
	return body.String(), nil
}

func (s *EmailService) RegistrationApproved(_ context.Context, email, name string) error {
	body, err := s.GenerateEmailBody("registration_approved.html", struct {
		Name string
		Link string
	}{Name: name, Link: s.cfg.PublicURL})
	if err != nil {
		return err
	}
	return s.SendEmail([]string{email}, "Your club membership is approved", body)
}

func (s *EmailService) RegistrationRejected(_ context.Context, email, name, reason string, canResubmit bool) error {
	body, err := s.GenerateEmailBody("registration_rejected.html", struct {
		Name        string
		Reason      string
		CanResubmit bool
		Link        string
	}{Name: name, Reason: reason, CanResubmit: canResubmit, Link: s.cfg.PublicURL + "/registration"})
	if err != nil {
		return err
	}
	return s.SendEmail([]string{email}, "Your club membership request", body)
}

func (s *EmailService) PaymentManagerRequested(_ context.Context, parentEmail, youthName string) error {
	body, err := s.GenerateEmailBody("payment_manager_request.html", struct {
		YouthName string
		Link      string
	}{YouthName: youthName, Link: s.cfg.PublicURL + "/me/parent-requests"})
	if err != nil {
		return err
	}
	return s.SendEmail([]string{parentEmail}, fmt.Sprintf("%s asked you to manage their payments", youthName), body)
}
