package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"
	"time"

	"LIBRIS-backend/internal/penalty"
)

//go:embed templates/*
var templateFS embed.FS

const (
	borrowTemplate = "borrow_receipt"
	returnTemplate = "return_receipt"
)

// BorrowReceipt は貸出時に送る内容
type BorrowReceipt struct {
	To          mail.Address
	StudentName string
	StudentNo   string
	Title       string
	BorrowID    string
	BorrowedAt  time.Time
	DueOn       string
}

// Code はカウンターで読み取る受付番号
func (r BorrowReceipt) Code() string { return "BOR-" + r.BorrowID }
func (r BorrowReceipt) Rate() int64  { return penalty.RatePerDay }

// ReturnReceipt は返却時に送る内容
type ReturnReceipt struct {
	To          mail.Address
	StudentName string
	StudentNo   string
	Title       string
	BorrowID    string
	ReturnID    string // return_ulid
	BorrowedAt  time.Time
	DueOn       string
	ReturnedAt  time.Time
	Penalty     int64
}

func (r ReturnReceipt) Code() string { return "RET-" + r.ReturnID }

type pair struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

type Service struct {
	mailer    Mailer
	templates map[string]pair
}

func NewService(m Mailer, loc *time.Location) (*Service, error) {
	if loc == nil {
		loc = time.UTC
	}
	date := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.In(loc).Format("2006-01-02 15:04")
	}

	s := &Service{mailer: m, templates: map[string]pair{}}
	for _, name := range []string{borrowTemplate, returnTemplate} {
		txt, err := texttmpl.New(name).Option("missingkey=error").
			Funcs(texttmpl.FuncMap{"date": date}).
			ParseFS(templateFS, "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("parse %s.txt: %w", name, err)
		}
		html, err := htmltmpl.New(name).
			Funcs(htmltmpl.FuncMap{"date": date}).
			ParseFS(templateFS, "templates/"+name+".gohtml")
		if err != nil {
			return nil, fmt.Errorf("parse %s.gohtml: %w", name, err)
		}
		s.templates[name] = pair{text: txt, html: html}
	}
	return s, nil
}

func (s *Service) BorrowReceipt(ctx context.Context, r BorrowReceipt) error {
	msg, err := s.render(borrowTemplate, r.To, "Borrowed: "+r.Title, r)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

func (s *Service) ReturnReceipt(ctx context.Context, r ReturnReceipt) error {
	msg, err := s.render(returnTemplate, r.To, "Returned: "+r.Title, r)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

func (s *Service) render(name string, to mail.Address, subject string, data any) (Message, error) {
	if to.Address == "" {
		return Message{}, ErrNoRecipient
	}
	p := s.templates[name]

	var txt, html bytes.Buffer
	if err := p.text.ExecuteTemplate(&txt, "body", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	if err := p.html.ExecuteTemplate(&html, "body", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{
		To:      []mail.Address{to},
		Subject: subject,
		Text:    txt.String(),
		HTML:    html.String(),
	}, nil
}
