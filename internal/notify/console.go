package notify

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"sync"
	"time"
)

// ConsoleMailer は送らずに書き出すだけ（開発用）
type ConsoleMailer struct {
	from       mail.Address
	subjPrefix string
	mu         sync.Mutex
	w          io.Writer
	sent       []Message
}

var _ Mailer = (*ConsoleMailer)(nil)

func NewConsoleMailer(w io.Writer, fromName, fromAddress string) *ConsoleMailer {
	return &ConsoleMailer{
		from:       mail.Address{Name: fromName, Address: fromAddress},
		subjPrefix: "[" + fromName + "] ",
		w:          w,
	}
}

func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	if !msg.HasRecipients() {
		return ErrNoRecipient
	}
	body := new(strings.Builder)
	fmt.Fprintf(body, "From: %s\r\n", m.from.String())
	fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(body, "Subject: %s\r\n", m.subjPrefix+msg.Subject)
	fmt.Fprintf(body, "To: %s\r\n\r\n", joinAddresses(msg.To))
	fmt.Fprintf(body, "%s\r\n", msg.Text)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	_, err := io.WriteString(m.w, body.String())
	return err
}

// Sent returns a copy of everything written so far.
func (m *ConsoleMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

func joinAddresses(addrs []mail.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return strings.Join(out, ", ")
}
