package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 10 * time.Second

type httpSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type httpSendResult struct {
	ID string `json:"id"`
}

// HTTPSender posts messages to a Resend-compatible JSON email API.
type HTTPSender struct {
	client   *resty.Client
	endpoint string
	from     mail.Address
}

func NewHTTPSender(endpoint, apiKey string, from mail.Address) (*HTTPSender, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)

	return NewHTTPSenderWithClient(endpoint, apiKey, from, client)
}

func NewHTTPSenderWithClient(endpoint, apiKey string, from mail.Address, client *resty.Client) (*HTTPSender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("email api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid email api url: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("email api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)
	client.SetAuthToken(strings.TrimSpace(apiKey))

	return &HTTPSender{
		client:   client,
		endpoint: trimmedEndpoint,
		from:     from,
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (*SendResponse, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("http sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, &SendError{Message: "invalid message", Cause: err}
	}

	to := mail.Address{Name: msg.ToName, Address: msg.To}
	var result httpSendResult

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(httpSendRequest{
			From:    s.from.String(),
			To:      []string{to.String()},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
		}).
		SetResult(&result).
		Post(s.endpoint)
	if err != nil {
		return nil, &SendError{
			Message:   "email api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		messageID := result.ID
		if messageID == "" {
			messageID = headerMessageID(response.Header())
		}
		return &SendResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID,
		}, nil
	}

	return nil, &SendError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func headerMessageID(header http.Header) string {
	for _, key := range []string{"X-Message-Id", "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(header.Get(key)); value != "" {
			return value
		}
	}
	return ""
}
