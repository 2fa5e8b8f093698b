package codec

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"
	"unicode"

	"github.com/ajramos/ebbsync/internal/model"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// DefaultDomain is used for Message-IDs when the sender has no usable domain
const DefaultDomain = "ebbsync.local"

// Envelope describes an outbound plain-text message
type Envelope struct {
	From    model.EmailAddress
	To      []model.EmailAddress
	Cc      []model.EmailAddress
	Subject string
	Body    string
	// Date defaults to now
	Date time.Time
	// MessageID defaults to a generated id
	MessageID string
}

// Parent identifies the message being replied to
type Parent struct {
	ID         string // Gmail id, used when the Message-ID header is missing
	MessageID  string
	References string
}

// NewMessage builds an RFC 2822 message with no threading headers
func NewMessage(env Envelope) ([]byte, error) {
	return build(env, env.Subject, nil)
}

// Reply builds an RFC 2822 reply chained onto parent
func Reply(env Envelope, parent Parent) ([]byte, error) {
	inReplyTo := strings.TrimSpace(parent.MessageID)
	if inReplyTo == "" {
		if parent.ID == "" {
			return nil, fmt.Errorf("reply parent has neither Message-ID nor id")
		}
		inReplyTo = fmt.Sprintf("<%s@mail.gmail.com>", parent.ID)
	}
	refs := inReplyTo
	if prior := strings.TrimSpace(parent.References); prior != "" {
		refs = prior + " " + inReplyTo
	}
	return build(env, ReplySubject(env.Subject), [][2]string{
		{"In-Reply-To", inReplyTo},
		{"References", refs},
	})
}

// ReplySubject adds "Re: " unless the subject already has it
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

func build(env Envelope, subject string, threading [][2]string) ([]byte, error) {
	if strings.TrimSpace(env.From.Email) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if len(env.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	date := env.Date
	if date.IsZero() {
		date = now()
	}
	msgID := env.MessageID
	if msgID == "" {
		msgID = GenerateMessageID(domainOf(env.From.Email), date)
	}

	var sb strings.Builder
	writeHeader(&sb, "From", FormatAddress(env.From))
	writeHeader(&sb, "To", FormatAddressList(env.To))
	if len(env.Cc) > 0 {
		writeHeader(&sb, "Cc", FormatAddressList(env.Cc))
	}
	writeHeader(&sb, "Subject", EncodeHeader(subject))
	writeHeader(&sb, "Message-ID", msgID)
	writeHeader(&sb, "Date", date.Format(time.RFC1123Z))
	for _, h := range threading {
		writeHeader(&sb, h[0], h[1])
	}
	writeHeader(&sb, "MIME-Version", "1.0")
	writeHeader(&sb, "Content-Type", "text/plain; charset=utf-8")
	writeHeader(&sb, "Content-Transfer-Encoding", "quoted-printable")
	sb.WriteString("\r\n")

	body, err := EncodeQuotedPrintable(env.Body)
	if err != nil {
		return nil, err
	}
	sb.WriteString(body)
	return []byte(sb.String()), nil
}

func writeHeader(sb *strings.Builder, name, value string) {
	sb.WriteString(name)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteString("\r\n")
}

// GenerateMessageID returns a fresh id of the form <uuid.unixSeconds@domain>
func GenerateMessageID(domain string, at time.Time) string {
	if domain == "" {
		domain = DefaultDomain
	}
	return fmt.Sprintf("<%s.%d@%s>", uuid.NewString(), at.Unix(), domain)
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return strings.TrimSpace(email[i+1:])
	}
	return DefaultDomain
}

func needsEncoding(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || (r < 0x20 && r != '\t') || r == 0x7f {
			return true
		}
	}
	return false
}

// EncodeHeader RFC 2047 base64-encodes values with non-ASCII or control characters
func EncodeHeader(v string) string {
	if !needsEncoding(v) {
		return v
	}
	return mime.BEncoding.Encode("UTF-8", v)
}

// FormatAddress renders one address for a header
func FormatAddress(a model.EmailAddress) string {
	name := strings.TrimSpace(a.Name)
	email := strings.TrimSpace(a.Email)
	if name == "" {
		return email
	}
	if needsEncoding(name) {
		return mime.BEncoding.Encode("UTF-8", name) + " <" + email + ">"
	}
	return (&mail.Address{Name: name, Address: email}).String()
}

// FormatAddressList renders a comma-separated address list
func FormatAddressList(list []model.EmailAddress) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if strings.TrimSpace(a.Email) == "" {
			continue
		}
		parts = append(parts, FormatAddress(a))
	}
	return strings.Join(parts, ", ")
}

// EncodeQuotedPrintable encodes text with 76-column soft wraps and CRLF line breaks
func EncodeQuotedPrintable(s string) (string, error) {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	if _, err := io.WriteString(w, s); err != nil {
		return "", fmt.Errorf("quoted-printable encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("quoted-printable encode: %w", err)
	}
	return buf.String(), nil
}

// DecodeQuotedPrintable reverses EncodeQuotedPrintable, returning LF line breaks
func DecodeQuotedPrintable(s string) (string, error) {
	out, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
	if err != nil {
		return "", fmt.Errorf("quoted-printable decode: %w", err)
	}
	return strings.ReplaceAll(string(out), "\r\n", "\n"), nil
}
