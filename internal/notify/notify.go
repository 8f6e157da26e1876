// Package notify delivers risk alerts to the operator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Notifier sends one alert. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// LogNotifier writes alerts to the process log. Always configured as the
// last-resort channel.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, title, message string) error {
	log.Printf("ALERT [%s] %s", title, message)
	return nil
}

// WebhookNotifier POSTs alerts as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
	}
	return nil
}

// EmailNotifier sends alerts over SMTP.
type EmailNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

func (n *EmailNotifier) Send(_ context.Context, title, message string) error {
	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)
	var auth smtp.Auth
	if n.Username != "" {
		auth = smtp.PlainAuth("", n.Username, n.Password, n.Host)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.From, strings.Join(n.To, ", "), title, message)
	return smtp.SendMail(addr, auth, n.From, n.To, []byte(body))
}

// Fanout sends through every notifier, collecting failures instead of
// stopping at the first one.
type Fanout struct {
	Notifiers []Notifier
}

func (f *Fanout) Send(ctx context.Context, title, message string) error {
	var errs []string
	for _, n := range f.Notifiers {
		if err := n.Send(ctx, title, message); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}
