// Package mail составляет и отправляет уведомления о статусе pipeline'ов.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/rpd-pipelines/internal/config"
	"github.com/shaiso/rpd-pipelines/internal/domain"
)

// ErrSendFailed — письмо не удалось отправить.
var ErrSendFailed = errors.New("sending mail failed")

// Message — письмо.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Bytes возвращает письмо в формате RFC 5322.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return buf.Bytes()
}

// Sender отправляет письма.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPSender отправляет письма через локальный relay без аутентификации.
type SMTPSender struct {
	relay string
}

// NewSMTPSender создаёт SMTPSender. relay — host:port.
func NewSMTPSender(relay string) *SMTPSender {
	return &SMTPSender{relay: relay}
}

// Send реализует Sender.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := smtp.SendMail(s.relay, nil, msg.From, msg.To, msg.Bytes()); err != nil {
		return fmt.Errorf("%w: %s via %s: %v", ErrSendFailed, msg.Subject, s.relay, err)
	}
	return nil
}

// Composer составляет письма от имени команды.
type Composer struct {
	cfg config.MailConfig
}

// NewComposer создаёт Composer.
func NewComposer(cfg config.MailConfig) *Composer {
	return &Composer{cfg: cfg}
}

// Signature возвращает подпись писем.
func (c *Composer) Signature() string {
	return fmt.Sprintf("\n--\nResearch Pipeline Development Team\nScientific & Research Computing\n<%s>\n", c.cfg.From)
}

// AddressFor возвращает адрес пользователя.
func (c *Composer) AddressFor(user string) string {
	return c.cfg.AddressFor(user)
}

// Status — параметры письма о статусе pipeline.
type Status struct {
	User            string
	PipelineName    string
	PipelineVersion string
	AnalysisID      string
	OutDir          string
	Success         bool
	ExtraText       string
}

// ComposeStatus составляет письмо о завершении или сбое pipeline.
func (c *Composer) ComposeStatus(st Status) *Message {
	var status, body string
	if st.Success {
		status = "completed"
		body = fmt.Sprintf("Pipeline %s (version %s) %s for %s.", st.PipelineName, st.PipelineVersion, status, st.AnalysisID)
		body += fmt.Sprintf("\n\nResults can be found in %s\n", st.OutDir)
	} else {
		status = "failed"
		body = fmt.Sprintf("Pipeline %s %s for %s", st.PipelineName, status, st.AnalysisID)
		body += fmt.Sprintf("\nSorry about this. Please check log files in %s", filepath.Join(st.OutDir, domain.LogDirRel))
	}
	if st.ExtraText != "" {
		body += "\n" + st.ExtraText + "\n"
	}
	body += "\n\nThis is an automatically generated email\n"
	body += c.Signature()

	return &Message{
		From:    c.cfg.From,
		To:      []string{c.AddressFor(st.User)},
		Subject: fmt.Sprintf("Pipeline %s %s for %s", st.PipelineName, status, st.AnalysisID),
		Body:    body,
	}
}

// ComposeReport составляет письмо-отчёт с произвольным текстом.
func (c *Composer) ComposeReport(user, subject, text string) *Message {
	body := text + "\n"
	body += "\n\nThis is an automatically generated email\n"
	body += c.Signature()

	return &Message{
		From:    c.cfg.From,
		To:      []string{c.AddressFor(user)},
		Subject: subject,
		Body:    body,
	}
}
