package mailer

import (
	"context"

	"github.com/nexbank/auth-service/internal/domain"
	"github.com/nexbank/auth-service/pkg/rabbitmq"
)

// NotificationExchange is the topic exchange the notification service consumes.
const NotificationExchange = "notification_events"

// EmailSender dispatches a templated email to a recipient. Implementations
// must treat delivery as fire-and-forget relative to the request path.
type EmailSender interface {
	Send(ctx context.Context, to, template string, data map[string]any) error
}

// EventMailer sends email by publishing EmailRequestedEvents; the
// notification service renders the template and talks to the mail provider.
type EventMailer struct {
	producer rabbitmq.Publisher
}

// NewEventMailer creates a mailer backed by the given publisher.
func NewEventMailer(producer rabbitmq.Publisher) *EventMailer {
	return &EventMailer{producer: producer}
}

// Send publishes an email.<template> event for the notification service.
func (m *EventMailer) Send(ctx context.Context, to, template string, data map[string]any) error {
	event := domain.EmailRequestedEvent{
		Email:    to,
		Template: template,
		Data:     data,
	}
	return m.producer.Publish(ctx, NotificationExchange, "email."+template, event)
}
