package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// Sender is the outbound transactional email port.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResponse, error)
}

// Message is a rendered email for a single recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

func (m Message) Validate() error {
	if _, err := mail.ParseAddress(strings.TrimSpace(m.To)); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", m.To, err)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("message has no content")
	}
	return nil
}

// SendResponse stores provider call metadata for the delivery record.
type SendResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}

const (
	ProviderConsole  = "console"
	ProviderSendGrid = "sendgrid"
	ProviderHTTP     = "http"
)

// Settings selects and configures a Sender.
type Settings struct {
	Provider    string
	APIKey      string
	APIURL      string
	FromAddress string
	FromName    string
}

func NewSender(settings Settings, logger *zap.Logger) (Sender, error) {
	from := mail.Address{Name: settings.FromName, Address: strings.TrimSpace(settings.FromAddress)}
	if _, err := mail.ParseAddress(from.Address); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", settings.FromAddress, err)
	}

	switch strings.ToLower(strings.TrimSpace(settings.Provider)) {
	case ProviderConsole, "":
		return NewConsoleSender(from, logger), nil
	case ProviderSendGrid:
		return NewSendGridSender(settings.APIKey, from)
	case ProviderHTTP:
		return NewHTTPSender(settings.APIURL, settings.APIKey, from)
	default:
		return nil, fmt.Errorf("unknown email provider %q", settings.Provider)
	}
}
