// Package notification delivers Email/SMS messages for diagnostic result
// events with template rendering and in-memory delivery records.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel represents the delivery channel for a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message represents a single outbound notification.
type Message struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "result-released",
			Name:    "Result Released",
			Subject: "Your {{test_name}} results are ready",
			Body:    "Dear {{patient_name}}, your {{test_name}} results have been released. Please log in to view them.",
			Channel: ChannelEmail,
		},
		{
			ID:      "critical-value-alert",
			Name:    "Critical Value Alert",
			Subject: "CRITICAL: {{test_name}} for {{patient_name}}",
			Body:    "A critical value was recorded for {{patient_name}} on {{test_name}}: {{value}} {{unit}}. Immediate review required.",
			Channel: ChannelSMS,
		},
		{
			ID:      "result-amended",
			Name:    "Result Amended",
			Subject: "Amended report for {{patient_name}}",
			Body:    "The released {{test_name}} report for {{patient_name}} was amended. Reason: {{reason}}. Please review the updated report.",
			Channel: ChannelEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

func (e *TemplateEngine) channel(templateID string) Channel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, ok := e.templates[templateID]; ok {
		return t.Channel
	}
	return ChannelEmail
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Notifier dispatches result lifecycle notifications and keeps an in-memory
// record of deliveries. Delivery failures are logged but never surfaced to the
// workflow that triggered them.
type Notifier struct {
	emailSender EmailSender
	smsSender   SMSSender
	templates   *TemplateEngine
	logger      zerolog.Logger
	onCall      string
	mu          sync.RWMutex
	messages    map[string]*Message
}

// NewNotifier constructs a Notifier.
func NewNotifier(email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Notifier {
	return &Notifier{
		emailSender: email,
		smsSender:   sms,
		templates:   tpl,
		logger:      logger,
		messages:    make(map[string]*Message),
	}
}

// SetOnCallNumber sets the number that receives critical value alerts when
// the release event does not name one.
func (n *Notifier) SetOnCallNumber(number string) {
	n.onCall = number
}

// Send renders the template and dispatches the message through the template's
// channel, recording the outcome.
func (n *Notifier) Send(ctx context.Context, templateID, recipient string, data map[string]string) (*Message, error) {
	subject, body, err := n.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	msg := &Message{
		ID:           uuid.NewString(),
		Channel:      n.templates.channel(templateID),
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		CreatedAt:    time.Now().UTC(),
		Status:       "pending",
	}

	var sendErr error
	switch {
	case msg.Channel == ChannelEmail && n.emailSender != nil:
		sendErr = n.emailSender.SendEmail(ctx, recipient, subject, body)
	case msg.Channel == ChannelSMS && n.smsSender != nil:
		sendErr = n.smsSender.SendSMS(ctx, recipient, body)
	default:
		sendErr = fmt.Errorf("no sender configured for channel %s", msg.Channel)
	}

	if sendErr != nil {
		msg.Status = "failed"
		msg.Error = sendErr.Error()
	} else {
		msg.Status = "sent"
		sentAt := time.Now().UTC()
		msg.SentAt = &sentAt
	}

	n.mu.Lock()
	n.messages[msg.ID] = msg
	n.mu.Unlock()

	if sendErr != nil {
		return msg, sendErr
	}
	return msg, nil
}

// ReleaseEvent describes a released result for notification purposes.
type ReleaseEvent struct {
	ResultID     string
	PatientName  string
	TestName     string
	Recipient    string
	IsCritical   bool
	Value        string
	Unit         string
	OnCallNumber string
}

// ResultReleased sends the patient-facing release notice, plus a critical
// value alert to the on-call number when the result carries a critical flag.
// Dispatch runs in the background so a slow or failing provider never blocks
// the release transition.
func (n *Notifier) ResultReleased(ev ReleaseEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if ev.Recipient != "" {
			if _, err := n.Send(ctx, "result-released", ev.Recipient, map[string]string{
				"patient_name": ev.PatientName,
				"test_name":    ev.TestName,
			}); err != nil {
				n.logger.Warn().Err(err).
					Str("result_id", ev.ResultID).
					Str("template", "result-released").
					Msg("notification failed")
			}
		}

		onCall := ev.OnCallNumber
		if onCall == "" {
			onCall = n.onCall
		}
		if ev.IsCritical && onCall != "" {
			if _, err := n.Send(ctx, "critical-value-alert", onCall, map[string]string{
				"patient_name": ev.PatientName,
				"test_name":    ev.TestName,
				"value":        ev.Value,
				"unit":         ev.Unit,
			}); err != nil {
				n.logger.Warn().Err(err).
					Str("result_id", ev.ResultID).
					Str("template", "critical-value-alert").
					Msg("notification failed")
			}
		}
	}()
}

// AmendEvent describes an amendment to a released result.
type AmendEvent struct {
	ResultID    string
	PatientName string
	TestName    string
	Reason      string
	Recipient   string
}

// ResultAmended sends an amendment notice to the ordering clinician in the
// background.
func (n *Notifier) ResultAmended(ev AmendEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if ev.Recipient == "" {
			return
		}
		if _, err := n.Send(ctx, "result-amended", ev.Recipient, map[string]string{
			"patient_name": ev.PatientName,
			"test_name":    ev.TestName,
			"reason":       ev.Reason,
		}); err != nil {
			n.logger.Warn().Err(err).
				Str("result_id", ev.ResultID).
				Str("template", "result-amended").
				Msg("notification failed")
		}
	}()
}

// Get retrieves a delivery record by ID.
func (n *Notifier) Get(id string) (*Message, error) {
	n.mu.RLock()
	msg, ok := n.messages[id]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message %q not found", id)
	}
	return msg, nil
}

// Stats returns counts of delivery records grouped by status.
func (n *Notifier) Stats() map[string]int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	stats := make(map[string]int)
	for _, msg := range n.messages {
		stats[msg.Status]++
	}
	return stats
}
