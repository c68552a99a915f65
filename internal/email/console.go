package email

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConsoleSender logs messages instead of sending them. Used in development.
type ConsoleSender struct {
	from   mail.Address
	logger *zap.Logger
}

func NewConsoleSender(from mail.Address, logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{from: from, logger: logger}
}

func (s *ConsoleSender) Send(ctx context.Context, msg Message) (*SendResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, &SendError{Message: "invalid message", Cause: err}
	}

	messageID := "console-" + uuid.NewString()
	s.logger.Info("email",
		zap.String("messageId", messageID),
		zap.String("from", s.from.String()),
		zap.String("to", (&mail.Address{Name: msg.ToName, Address: msg.To}).String()),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
		zap.Int("htmlBytes", len(msg.HTML)),
	)

	return &SendResponse{
		StatusCode: http.StatusAccepted,
		Body:       fmt.Sprintf(`{"id":%q}`, messageID),
		MessageID:  messageID,
	}, nil
}
