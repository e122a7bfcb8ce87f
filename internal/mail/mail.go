// Package mail delivers transactional email. The core only sees Sender.
package mail

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SendGridSender struct {
	client *sendgrid.Client
	from   *sgmail.Email
}

func NewSendGridSender(apiKey, from string) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   sgmail.NewEmail("", from),
	}
}

func (s *SendGridSender) Send(ctx context.Context, to, subject, body string) error {
	msg := sgmail.NewSingleEmail(s.from, subject, sgmail.NewEmail("", to), body, "")
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. Used when no
// mail provider is configured. Bodies carry reset tokens and one-time
// passwords, so they are only logged at debug level.
type LogSender struct {
	Log *logrus.Logger
}

func (s LogSender) Send(_ context.Context, to, subject, body string) error {
	entry := s.Log.WithFields(logrus.Fields{"to": to, "subject": subject})
	entry.Info("email not sent, no mail provider configured")
	entry.Debug(body)
	return nil
}

type Message struct {
	To, Subject, Body string
}

// Outbox records messages in memory. Setting Fail makes every Send return it.
type Outbox struct {
	mu       sync.Mutex
	Messages []Message
	Fail     error
}

func (o *Outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Fail != nil {
		return o.Fail
	}
	o.Messages = append(o.Messages, Message{To: to, Subject: subject, Body: body})
	return nil
}

func (o *Outbox) Last() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Messages) == 0 {
		return Message{}, false
	}
	return o.Messages[len(o.Messages)-1], true
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Messages)
}
