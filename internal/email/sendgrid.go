package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridSender delivers through the SendGrid v3 mail send API.
type SendGridSender struct {
	key  string
	host string
	from *sgmail.Email
}

func NewSendGridSender(apiKey string, from mail.Address) (*SendGridSender, error) {
	return newSendGridSender(apiKey, from, sendGridHost)
}

func newSendGridSender(apiKey string, from mail.Address, host string) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}

	return &SendGridSender{
		key:  strings.TrimSpace(apiKey),
		host: host,
		from: sgmail.NewEmail(from.Name, from.Address),
	}, nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)

	if msg.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}

	return m
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) (*SendResponse, error) {
	if s == nil || s.from == nil {
		return nil, fmt.Errorf("sendgrid sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, &SendError{Message: "invalid message", Cause: err}
	}

	req := sendgrid.GetRequest(s.key, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return nil, &SendError{
			Message:   "sendgrid request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	body := strings.TrimSpace(res.Body)
	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return &SendResponse{
			StatusCode: res.StatusCode,
			Body:       body,
			MessageID:  headerMessageID(http.Header(res.Headers)),
		}, nil
	}

	return nil, &SendError{
		StatusCode: res.StatusCode,
		Message:    statusErrorMessage(res.StatusCode, body),
		Transient:  isTransientHTTPStatus(res.StatusCode),
	}
}
