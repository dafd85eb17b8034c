package smtp

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/fintrack-api/internal/config"
	"github.com/fintrack-api/internal/pkg/id"
)

// SendRequest is one outbound email.
type SendRequest struct {
	MessageID string // queue message id, echoed back in the result
	To        string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// SendResult is the per-message transport outcome. ExternalID is the
// transport's opaque message id used later for open/click correlation.
type SendResult struct {
	MessageID  string
	Success    bool
	ExternalID string
	Error      string
}

// Mailer is the outbound mail transport. SendBulk amortizes connection
// setup over a batch; results come back per message so one recipient's
// bounce never fails its siblings.
type Mailer interface {
	Send(ctx context.Context, req SendRequest) SendResult
	SendBulk(ctx context.Context, reqs []SendRequest) []SendResult
}

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	timeout  time.Duration
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		timeout:  cfg.TransportTimeout,
	}
}

func (m *mailer) Send(ctx context.Context, req SendRequest) SendResult {
	results := m.SendBulk(ctx, []SendRequest{req})
	return results[0]
}

func (m *mailer) SendBulk(ctx context.Context, reqs []SendRequest) []SendResult {
	results := make([]SendResult, len(reqs))
	for i, req := range reqs {
		results[i] = SendResult{MessageID: req.MessageID}
	}

	client, err := m.connect(ctx)
	if err != nil {
		for i := range results {
			results[i].Error = err.Error()
		}
		return results
	}
	defer client.Quit()

	for i, req := range reqs {
		if ctx.Err() != nil {
			results[i].Error = ctx.Err().Error()
			continue
		}
		externalID, err := m.transmit(client, req)
		if err != nil {
			results[i].Error = err.Error()
			// A rejected RCPT or DATA leaves the session usable after
			// RSET; keep going with the rest of the batch.
			_ = client.Reset()
			continue
		}
		results[i].Success = true
		results[i].ExternalID = externalID
	}
	return results
}

// connect dials the SMTP server with the configured timeout and applies it
// as the connection deadline, so a stalled server surfaces as a normal
// transport failure instead of a hung dispatch pass.
func (m *mailer) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.host, m.port)
	d := net.Dialer{Timeout: m.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	deadline := time.Now().Add(m.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

func (m *mailer) transmit(client *smtp.Client, req SendRequest) (string, error) {
	if err := client.Mail(m.from); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(req.To); err != nil {
		return "", fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	externalID := messageID(m.host)
	if _, err := w.Write(buildMIME(m.from, req, externalID)); err != nil {
		w.Close()
		return "", fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp close body: %w", err)
	}
	return externalID, nil
}

// messageID generates the Message-ID header value, which doubles as the
// opaque external id the tracking callback correlates on.
func messageID(host string) string {
	return fmt.Sprintf("%s@%s", strings.ToLower(id.New()), host)
}

// buildMIME assembles a multipart/alternative message with text and HTML
// parts.
func buildMIME(from string, req SendRequest, externalID string) []byte {
	const boundary = "=_fintrack_alt"
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", req.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", externalID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	text := req.TextBody
	if text == "" {
		text = req.Subject
	}
	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(req.HTMLBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
