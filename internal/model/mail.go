package model

import (
	"sort"
	"strings"
	"time"
)

// UnreadLabel is the Gmail system label marking a message as unread
const UnreadLabel = "UNREAD"

// EmailAddress is a mailbox with an optional display name
type EmailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// DisplayName returns the name when present, otherwise the address
func (a EmailAddress) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.Email
}

// SameAs compares two addresses by email, case-insensitively
func (a EmailAddress) SameAs(other EmailAddress) bool {
	return a.Is(other.Email)
}

// Is compares the address against a raw email string, case-insensitively
func (a EmailAddress) Is(email string) bool {
	return strings.EqualFold(strings.TrimSpace(a.Email), strings.TrimSpace(email))
}

// SanitizedState tags where a sanitized body came from during a merge
type SanitizedState int

const (
	// SanitizedAbsent means no AI-cleaned content exists
	SanitizedAbsent SanitizedState = iota
	// SanitizedPreserved is content carried forward from an earlier record
	SanitizedPreserved
	// SanitizedFresh is content produced explicitly for this record
	SanitizedFresh
)

func (s SanitizedState) String() string {
	switch s {
	case SanitizedPreserved:
		return "preserved"
	case SanitizedFresh:
		return "fresh"
	default:
		return "absent"
	}
}

// Sanitized holds the AI-cleaned body of a message with its provenance
type Sanitized struct {
	State SanitizedState
	Body  string
	At    time.Time
}

// FreshSanitized marks content the caller just produced
func FreshSanitized(body string, at time.Time) Sanitized {
	return Sanitized{State: SanitizedFresh, Body: body, At: at}
}

// PreservedSanitized marks content carried over from a stored record
func PreservedSanitized(body string, at time.Time) Sanitized {
	return Sanitized{State: SanitizedPreserved, Body: body, At: at}
}

// Has reports whether there is sanitized content
func (s Sanitized) Has() bool {
	return s.State != SanitizedAbsent
}

// Message is an immutable snapshot of one Gmail message
type Message struct {
	ID         string
	ThreadID   string
	From       EmailAddress
	To         []EmailAddress
	Cc         []EmailAddress
	Subject    string
	Date       time.Time
	Snippet    string
	BodyPlain  string
	BodyHTML   string
	Sanitized  Sanitized
	LabelIDs   []string
	MessageID  string // Message-ID header, used to thread replies
	References string
	OwnerEmail string
}

// IsUnread reports whether the message carries the unread label
func (m Message) IsUnread() bool {
	for _, l := range m.LabelIDs {
		if l == UnreadLabel {
			return true
		}
	}
	return false
}

// IsFromOwner reports whether the authenticated user sent the message
func (m Message) IsFromOwner() bool {
	return m.OwnerEmail != "" && m.From.Is(m.OwnerEmail)
}

// DisplayBody prefers sanitized content, then the plain body, then the snippet
func (m Message) DisplayBody() string {
	if m.Sanitized.Has() {
		return m.Sanitized.Body
	}
	if m.BodyPlain != "" {
		return m.BodyPlain
	}
	return m.Snippet
}

// Thread is a conversation; messages are ascending by date and unique by id
type Thread struct {
	ID        string
	Snippet   string
	HistoryID string // empty means unknown, always refetch
	Messages  []Message
}

// LastMessageDate is the newest message date, zero for an empty thread
func (t Thread) LastMessageDate() time.Time {
	var last time.Time
	for _, m := range t.Messages {
		if m.Date.After(last) {
			last = m.Date
		}
	}
	return last
}

// UnreadCount counts unread messages in the thread
func (t Thread) UnreadCount() int {
	n := 0
	for _, m := range t.Messages {
		if m.IsUnread() {
			n++
		}
	}
	return n
}

// Subject is the subject of the first message
func (t Thread) Subject() string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[0].Subject
}

// PrimarySender is the sender of the first message
func (t Thread) PrimarySender() (EmailAddress, bool) {
	if len(t.Messages) == 0 {
		return EmailAddress{}, false
	}
	return t.Messages[0].From, true
}

// LastMessage returns the newest message
func (t Thread) LastMessage() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// MessageByID finds a message in the thread
func (t Thread) MessageByID(id string) (Message, bool) {
	for _, m := range t.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// NormalizeMessages drops duplicate ids (last occurrence wins) and sorts by date ascending
func NormalizeMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	index := make(map[string]int, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// ComposeDraft holds the fields of a new outbound message
type ComposeDraft struct {
	To      []EmailAddress
	Cc      []EmailAddress
	Subject string
	Body    string
}

// HasContent reports whether the draft has anything worth keeping
func (d ComposeDraft) HasContent() bool {
	return strings.TrimSpace(d.Body) != "" ||
		strings.TrimSpace(d.Subject) != "" ||
		len(d.To) > 0
}

// CanSend reports whether the draft has the minimum fields to send
func (d ComposeDraft) CanSend() bool {
	return len(d.To) > 0 && strings.TrimSpace(d.Body) != ""
}
