package notify

import (
	"context"
	"errors"
	"strings"
)

//go:generate mockgen -source=sender.go -destination=../mocks/notify/mock_sender.go -package=mock_notify

// Sender accepts a rendered message for delivery. Retries and bounces are the sender's concern.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// Message is a rendered notification.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

var (
	ErrMissingRecipient = errors.New("notify: recipient address is required")
	ErrEmptyBody        = errors.New("notify: message body is empty")
)

// Validate checks the fields every sender requires.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrMissingRecipient
	}
	if strings.TrimSpace(m.HTML) == "" && strings.TrimSpace(m.Text) == "" {
		return ErrEmptyBody
	}
	return nil
}
