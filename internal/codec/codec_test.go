package codec

import (
	"encoding/base64"
	"mime"
	"strings"
	"testing"
	"time"

	"github.com/ajramos/ebbsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func hdr(name, value string) *gmailapi.MessagePartHeader {
	return &gmailapi.MessagePartHeader{Name: name, Value: value}
}

func parseHeaders(t *testing.T, raw []byte) (map[string]string, []string, string) {
	t.Helper()
	head, body, ok := strings.Cut(string(raw), "\r\n\r\n")
	require.True(t, ok, "missing header/body separator")

	values := map[string]string{}
	var order []string
	for _, line := range strings.Split(head, "\r\n") {
		name, value, ok := strings.Cut(line, ": ")
		require.True(t, ok, "bad header line %q", line)
		values[name] = value
		order = append(order, name)
	}
	return values, order, body
}

func TestDecode_MultipartFirstBodiesWin(t *testing.T) {
	msg := &gmailapi.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "snip",
		LabelIds: []string{"INBOX", model.UnreadLabel},
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailapi.MessagePartHeader{
				hdr("subject", "=?UTF-8?B?SMOpbGxv?="),
				hdr("FROM", `"Doe, Jane" <jane@example.com>`),
				hdr("To", "me@example.com, Bob <bob@example.com>"),
				hdr("Date", "Mon, 03 Mar 2025 10:15:00 +0100"),
				hdr("Message-Id", "<abc@example.com>"),
				hdr("References", "<root@example.com>"),
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmailapi.MessagePart{
						{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("first plain")}},
						{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: b64("<p>first html</p>")}},
					},
				},
				{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("second plain")}},
			},
		},
	}

	m := Decode(msg, "me@example.com")

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "t1", m.ThreadID)
	assert.Equal(t, "Héllo", m.Subject)
	assert.Equal(t, model.EmailAddress{Name: "Doe, Jane", Email: "jane@example.com"}, m.From)
	assert.Equal(t, []model.EmailAddress{
		{Email: "me@example.com"},
		{Name: "Bob", Email: "bob@example.com"},
	}, m.To)
	assert.Nil(t, m.Cc)
	assert.Equal(t, "first plain", m.BodyPlain)
	assert.Equal(t, "<p>first html</p>", m.BodyHTML)
	assert.Equal(t, "<abc@example.com>", m.MessageID)
	assert.Equal(t, "<root@example.com>", m.References)
	assert.True(t, m.Date.Equal(time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC)))
	assert.True(t, m.IsUnread())
	assert.False(t, m.IsFromOwner())
}

func TestDecode_UnpaddedBodyAndCharset(t *testing.T) {
	latin1 := string([]byte{'c', 'a', 'f', 0xe9})
	msg := &gmailapi.Message{
		Id: "m2",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers:  []*gmailapi.MessagePartHeader{hdr("Content-Type", `text/plain; charset="ISO-8859-1"`)},
			Body:     &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(latin1))},
		},
	}

	m := Decode(msg, "")
	assert.Equal(t, "café", m.BodyPlain)
	assert.Empty(t, m.BodyHTML)
}

func TestDecode_DateFallbacks(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := now
	now = func() time.Time { return fixed }
	defer func() { now = prev }()

	withDate := func(v string, internal int64) time.Time {
		return Decode(&gmailapi.Message{
			InternalDate: internal,
			Payload:      &gmailapi.MessagePart{Headers: []*gmailapi.MessagePartHeader{hdr("Date", v)}},
		}, "").Date
	}

	assert.True(t, withDate("Tue, 4 Mar 2025 08:00:00 +0000 (UTC)", 0).Equal(time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)))
	assert.True(t, withDate("garbage", 1700000000000).Equal(time.UnixMilli(1700000000000)))
	assert.Equal(t, fixed, withDate("garbage", 0))
}

func TestDecodeThread_SortsAscending(t *testing.T) {
	th := DecodeThread(&gmailapi.Thread{
		Id:        "t1",
		HistoryId: 42,
		Messages: []*gmailapi.Message{
			{Id: "late", Snippet: "late", InternalDate: 2000},
			{Id: "early", Snippet: "early", InternalDate: 1000},
		},
	}, "me@example.com")

	assert.Equal(t, "t1", th.ID)
	assert.Equal(t, "42", th.HistoryID)
	require.Len(t, th.Messages, 2)
	assert.Equal(t, "early", th.Messages[0].ID)
	assert.Equal(t, "late", th.Messages[1].ID)
	assert.Equal(t, "t1", th.Messages[0].ThreadID)
	assert.Equal(t, "late", th.Snippet)
}

func TestParseAddressList_Fallback(t *testing.T) {
	// Unbalanced quoting trips the strict parser
	got := ParseAddressList(`"Broken <a@example.com>, plain@example.com`)
	assert.Equal(t, []model.EmailAddress{
		{Name: "Broken", Email: "a@example.com"},
		{Email: "plain@example.com"},
	}, got)
	assert.Nil(t, ParseAddressList("  "))
}

func TestNewMessage_Headers(t *testing.T) {
	at := time.Date(2025, 3, 5, 12, 0, 0, 0, time.FixedZone("", 3600))
	raw, err := NewMessage(Envelope{
		From:    model.EmailAddress{Name: "Me Myself", Email: "me@example.com"},
		To:      []model.EmailAddress{{Email: "bob@example.com"}},
		Subject: "Plain subject",
		Body:    "Hi Bob",
		Date:    at,
	})
	require.NoError(t, err)

	h, order, body := parseHeaders(t, raw)
	assert.Equal(t, []string{
		"From", "To", "Subject", "Message-ID", "Date",
		"MIME-Version", "Content-Type", "Content-Transfer-Encoding",
	}, order)
	assert.Equal(t, `"Me Myself" <me@example.com>`, h["From"])
	assert.Equal(t, "bob@example.com", h["To"])
	assert.Equal(t, "Plain subject", h["Subject"])
	assert.Equal(t, "Wed, 05 Mar 2025 12:00:00 +0100", h["Date"])
	assert.Regexp(t, `^<[0-9a-f-]{36}\.\d+@example\.com>$`, h["Message-ID"])
	assert.Equal(t, "text/plain; charset=utf-8", h["Content-Type"])
	assert.Equal(t, "quoted-printable", h["Content-Transfer-Encoding"])
	assert.Equal(t, "Hi Bob", body)
}

func TestNewMessage_EncodesSubjectAndCc(t *testing.T) {
	raw, err := NewMessage(Envelope{
		From:    model.EmailAddress{Email: "me@example.com"},
		To:      []model.EmailAddress{{Email: "a@example.com"}},
		Cc:      []model.EmailAddress{{Name: "Zoë", Email: "z@example.com"}},
		Subject: "Café ☕",
		Body:    "x",
	})
	require.NoError(t, err)

	h, _, _ := parseHeaders(t, raw)
	assert.True(t, strings.HasPrefix(h["Subject"], "=?UTF-8?b?"))

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(h["Subject"])
	require.NoError(t, err)
	assert.Equal(t, "Café ☕", subject)

	cc, err := dec.DecodeHeader(h["Cc"])
	require.NoError(t, err)
	assert.Equal(t, "Zoë <z@example.com>", cc)
}

func TestNewMessage_Validation(t *testing.T) {
	_, err := NewMessage(Envelope{To: []model.EmailAddress{{Email: "a@example.com"}}})
	assert.Error(t, err)

	_, err = NewMessage(Envelope{From: model.EmailAddress{Email: "me@example.com"}})
	assert.Error(t, err)
}

func TestReply_ChainsReferences(t *testing.T) {
	env := Envelope{
		From:    model.EmailAddress{Email: "me@x"},
		To:      []model.EmailAddress{{Email: "a@x"}},
		Subject: "Plans",
		Body:    "ok",
	}

	raw, err := Reply(env, Parent{MessageID: "<a@x>", References: "<z@x>"})
	require.NoError(t, err)
	h, order, _ := parseHeaders(t, raw)
	assert.Equal(t, "<a@x>", h["In-Reply-To"])
	assert.Equal(t, "<z@x> <a@x>", h["References"])
	assert.Equal(t, "Re: Plans", h["Subject"])
	assert.Equal(t, []string{
		"From", "To", "Subject", "Message-ID", "Date", "In-Reply-To", "References",
		"MIME-Version", "Content-Type", "Content-Transfer-Encoding",
	}, order)

	raw, err = Reply(env, Parent{MessageID: "<a@x>"})
	require.NoError(t, err)
	h, _, _ = parseHeaders(t, raw)
	assert.Equal(t, "<a@x>", h["References"])

	raw, err = Reply(env, Parent{ID: "18c0ffee"})
	require.NoError(t, err)
	h, _, _ = parseHeaders(t, raw)
	assert.Equal(t, "<18c0ffee@mail.gmail.com>", h["In-Reply-To"])

	_, err = Reply(env, Parent{})
	assert.Error(t, err)
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Hello", ReplySubject("Hello"))
	assert.Equal(t, "Re: Hello", ReplySubject("Re: Hello"))
	assert.Equal(t, "RE: Hello", ReplySubject("RE: Hello"))
	assert.Equal(t, "re:Hello", ReplySubject("re:Hello"))
}

func TestQuotedPrintable_RoundTrip(t *testing.T) {
	long := strings.Repeat("abcdefghij", 12)
	in := "a=b and ünïcødé ☕\n" + long + "\ntrailing space \nend"

	enc, err := EncodeQuotedPrintable(in)
	require.NoError(t, err)

	for _, line := range strings.Split(enc, "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	assert.Contains(t, enc, "a=3Db")
	assert.Contains(t, enc, "=\r\n")
	assert.NotContains(t, strings.ReplaceAll(enc, "\r\n", ""), "\n")

	dec, err := DecodeQuotedPrintable(enc)
	require.NoError(t, err)
	assert.Equal(t, in, dec)
}

func TestGenerateMessageID(t *testing.T) {
	at := time.Unix(1700000000, 0)
	a := GenerateMessageID("example.com", at)
	b := GenerateMessageID("", at)

	assert.Regexp(t, `^<[0-9a-f-]{36}\.1700000000@example\.com>$`, a)
	assert.True(t, strings.HasSuffix(b, "@"+DefaultDomain+">"))
	assert.NotEqual(t, a, GenerateMessageID("example.com", at))
}
