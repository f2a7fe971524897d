package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Message is a rendered notification. Link carries the confirmation URL
// embedded in the body template.
type Message struct {
	To      string `json:"To"`
	From    string `json:"From"`
	Subject string `json:"Subject"`
	Body    string `json:"TextBody"`
	Link    string `json:"-"`
}

// Mailer delivers a notification. Delivery failures are the sender's
// problem, never the triggering operation's.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes the message to the logger instead of sending it.
// Not for production, it logs addresses and message contents.
type LogMailer struct {
	logger Logger
}

func NewLogMailer(logger Logger) *LogMailer {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("send email to=%s subject=%q link=%s", msg.To, msg.Subject, msg.Link)
	return nil
}

// MemoryMailer collects messages for inspection in tests.
type MemoryMailer struct {
	mu       sync.Mutex
	Messages []Message
}

func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// HTTPMailer posts messages to a Postmark style transactional email API.
type HTTPMailer struct {
	client      *http.Client
	apiURL      string
	serverToken string
}

func NewHTTPMailer(client *http.Client, apiURL, serverToken string) *HTTPMailer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMailer{
		client:      client,
		apiURL:      apiURL,
		serverToken: serverToken,
	}
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	var b bytes.Buffer
	if err := json.NewEncoder(&b).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode email json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, &b)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", m.serverToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("mail API returned status %d", resp.StatusCode)
	}

	return nil
}

// AsyncMailer decorates a Mailer with a background worker so callers
// never wait on delivery. Send only fails if the mailer was closed.
type AsyncMailer struct {
	delegate Mailer
	logger   Logger
	queue    chan Message
	done     chan struct{}
	once     sync.Once
}

func NewAsyncMailer(delegate Mailer, logger Logger) *AsyncMailer {
	if logger == nil {
		logger = defLogger{}
	}

	m := &AsyncMailer{
		delegate: delegate,
		logger:   logger,
		queue:    make(chan Message, 64),
		done:     make(chan struct{}),
	}

	go m.worker()

	return m
}

func (m *AsyncMailer) Send(_ context.Context, msg Message) error {
	select {
	case <-m.done:
		return fmt.Errorf("mailer is closed")
	default:
	}

	select {
	case <-m.done:
		return fmt.Errorf("mailer is closed")
	case m.queue <- msg:
		return nil
	}
}

// Close stops the worker after draining queued messages.
func (m *AsyncMailer) Close() {
	m.once.Do(func() {
		close(m.done)
	})
}

func (m *AsyncMailer) worker() {
	for {
		select {
		case msg := <-m.queue:
			m.deliver(msg)
		case <-m.done:
			for {
				select {
				case msg := <-m.queue:
					m.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (m *AsyncMailer) deliver(msg Message) {
	// delivery happens outside any request scope
	if err := m.delegate.Send(context.Background(), msg); err != nil {
		m.logger.Error("mail delivery failed to=%s subject=%q: %v", msg.To, msg.Subject, err)
	}
}
