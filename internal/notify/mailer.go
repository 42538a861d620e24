// Package notify は貸出・返却のレシートメールを組み立てて送る
package notify

import (
	"context"
	"errors"
	"net/mail"
)

var ErrNoRecipient = errors.New("notify: recipient has no email address")

type Message struct {
	To      []mail.Address
	Subject string
	Text    string
	HTML    string
}

func (m *Message) HasRecipients() bool { return len(m.To) > 0 }
func (m *Message) HasContent() bool    { return m.Text != "" || m.HTML != "" }

// Mailer は1通送る。送信方式（SendGrid / コンソール）ごとに実装する。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
