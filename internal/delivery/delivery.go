package delivery

import (
	"context"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// Message is one accepted contact form submission.
type Message struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Body    string `json:"message"`

	VisitorID string `json:"visitor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// EngagementSeconds is time from first form interaction to submit, 0 when unknown
	EngagementSeconds float64 `json:"engagement_seconds,omitempty"`
	// Degraded is true when the rate limiter ran on session-only storage
	Degraded   bool      `json:"degraded,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sink delivers accepted messages.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// LogSink logs message metadata and drops the body. Used when no bucket is
// configured. Company is only readable through a logger that redacts it,
// see log.DefaultRedact.
type LogSink struct {
	Logger log.Logger
}

func (s LogSink) Deliver(ctx context.Context, m Message) error {
	L := s.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	L.Info(ctx, "contact message received",
		"message_id", m.ID,
		"visitor_id", m.VisitorID,
		"request_id", m.RequestID,
		"company", m.Company,
		"body_len", len(m.Body),
		"engagement_seconds", m.EngagementSeconds,
		"degraded", m.Degraded,
	)
	return nil
}
