// Package codec converts between Gmail wire messages and the domain model,
// and builds RFC 2822 outbound mail.
package codec

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/model"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	gmailapi "google.golang.org/api/gmail/v1"
)

// now is replaced in tests
var now = time.Now

// Decode converts a full Gmail message into a domain message
func Decode(msg *gmailapi.Message, ownerEmail string) model.Message {
	if msg == nil {
		return model.Message{}
	}

	out := model.Message{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		LabelIDs:   append([]string(nil), msg.LabelIds...),
		OwnerEmail: ownerEmail,
	}

	var headers []*gmailapi.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}
	out.Subject = decodeHeaderValue(header(headers, "Subject"))
	if from := ParseAddressList(header(headers, "From")); len(from) > 0 {
		out.From = from[0]
	}
	out.To = ParseAddressList(header(headers, "To"))
	out.Cc = ParseAddressList(header(headers, "Cc"))
	out.MessageID = strings.TrimSpace(header(headers, "Message-ID"))
	out.References = strings.TrimSpace(header(headers, "References"))
	out.Date = messageDate(header(headers, "Date"), msg.InternalDate)

	var b bodies
	b.walk(msg.Payload)
	out.BodyPlain = b.plain
	out.BodyHTML = b.html
	return out
}

// DecodeThread converts a full Gmail thread; messages come out ascending by date
func DecodeThread(t *gmailapi.Thread, ownerEmail string) model.Thread {
	if t == nil {
		return model.Thread{}
	}
	th := model.Thread{
		ID:        t.Id,
		Snippet:   t.Snippet,
		HistoryID: gmail.FormatHistoryID(t.HistoryId),
	}
	msgs := make([]model.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m == nil {
			continue
		}
		dm := Decode(m, ownerEmail)
		if dm.ThreadID == "" {
			dm.ThreadID = t.Id
		}
		msgs = append(msgs, dm)
	}
	th.Messages = model.NormalizeMessages(msgs)
	if th.Snippet == "" {
		if last, ok := th.LastMessage(); ok {
			th.Snippet = last.Snippet
		}
	}
	return th
}

func header(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

func decodeHeaderValue(v string) string {
	if !strings.Contains(v, "=?") {
		return strings.TrimSpace(v)
	}
	dec, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(dec)
}

// bodies collects the first text/plain and text/html parts of a depth-first walk
type bodies struct {
	plain, html         string
	havePlain, haveHTML bool
}

func (b *bodies) walk(part *gmailapi.MessagePart) {
	if part == nil || (b.havePlain && b.haveHTML) {
		return
	}
	mimeType := strings.ToLower(part.MimeType)
	if part.Body != nil && part.Body.Data != "" {
		switch {
		case mimeType == "text/plain" && !b.havePlain:
			if text, ok := partText(part); ok {
				b.plain, b.havePlain = text, true
			}
		case mimeType == "text/html" && !b.haveHTML:
			if text, ok := partText(part); ok {
				b.html, b.haveHTML = text, true
			}
		}
	}
	for _, p := range part.Parts {
		b.walk(p)
	}
}

func partText(part *gmailapi.MessagePart) (string, bool) {
	data, err := DecodeBase64URL(part.Body.Data)
	if err != nil {
		return "", false
	}
	_, params, err := mime.ParseMediaType(header(part.Headers, "Content-Type"))
	if err != nil {
		return string(data), true
	}
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if cs == "" || cs == "utf-8" || cs == "utf8" || cs == "us-ascii" {
		return string(data), true
	}
	r, err := charset.Reader(cs, bytes.NewReader(data))
	if err != nil {
		return string(data), true
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return string(data), true
	}
	return string(converted), true
}

// DecodeBase64URL decodes Gmail body data, padded or not
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

var angleAddr = regexp.MustCompile(`^(.*?)\s*<([^<>]+)>$`)

// ParseAddressList parses From/To/Cc values like `"Name" <a@b>, c@d`
func ParseAddressList(v string) []model.EmailAddress {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(v); err == nil {
		out := make([]model.EmailAddress, 0, len(list))
		for _, a := range list {
			out = append(out, model.EmailAddress{
				Name:  strings.TrimSpace(a.Name),
				Email: strings.TrimSpace(a.Address),
			})
		}
		return out
	}

	var out []model.EmailAddress
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := angleAddr.FindStringSubmatch(part); m != nil {
			out = append(out, model.EmailAddress{
				Name:  decodeHeaderValue(strings.Trim(strings.TrimSpace(m[1]), `"`)),
				Email: strings.TrimSpace(m[2]),
			})
			continue
		}
		out = append(out, model.EmailAddress{Email: part})
	}
	return out
}

// messageDate parses the Date header, then Gmail's internal date, then gives up with now
func messageDate(v string, internalDate int64) time.Time {
	v = strings.TrimSpace(v)
	if v != "" {
		if t, err := netmail.ParseDate(v); err == nil {
			return t
		}
		// Drop trailing comments such as "(UTC)"
		if i := strings.Index(v, "("); i > 0 {
			if t, err := netmail.ParseDate(strings.TrimSpace(v[:i])); err == nil {
				return t
			}
		}
		for _, layout := range []string{time.RFC1123Z, time.RFC1123, "2 Jan 2006 15:04:05 -0700"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate)
	}
	return now()
}
