package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

const (
	defaultWidth = 100
	senderWidth  = 22
	dateWidth    = 14
	idWidth      = 16
)

// now is replaced in tests
var now = time.Now

// outputWidth is the terminal width when w is one, otherwise defaultWidth
func outputWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultWidth
}

// printThreads writes one row per thread: id | sender | subject | date
func printThreads(w io.Writer, threads []model.Thread, limit int) {
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	width := outputWidth(w)
	for _, t := range threads {
		fmt.Fprintln(w, formatThreadRow(t, width))
	}
}

func formatThreadRow(t model.Thread, maxWidth int) string {
	// Keep a minimum width for usability
	if maxWidth < 60 {
		maxWidth = 60
	}

	sender := "(No sender)"
	if s, ok := t.PrimarySender(); ok {
		sender = s.DisplayName()
	}
	subject := t.Subject()
	if subject == "" {
		subject = "(No subject)"
	}

	suffix := ""
	if n := t.UnreadCount(); n > 0 {
		suffix += fmt.Sprintf(" [%d unread]", n)
	}
	if n := len(t.Messages); n > 1 {
		suffix += fmt.Sprintf(" (%d)", n)
	}
	// separators " | " x3 = 9
	subjectWidth := maxWidth - idWidth - senderWidth - dateWidth - 9 - runewidth.StringWidth(suffix)
	if subjectWidth < 10 {
		subjectWidth = 10
	}

	return fmt.Sprintf("%s | %s | %s%s | %s",
		fitWidth(t.ID, idWidth),
		fitWidth(sender, senderWidth),
		fitWidth(subject, subjectWidth),
		suffix,
		rightFit(relativeTime(t.LastMessageDate()), dateWidth))
}

// printThread writes the headers and display body of every message
func printThread(w io.Writer, t model.Thread) {
	subject := t.Subject()
	if subject == "" {
		subject = "(No subject)"
	}
	fmt.Fprintf(w, "%s\n%s\n", subject, strings.Repeat("=", min(runewidth.StringWidth(subject), outputWidth(w))))
	for i, m := range t.Messages {
		if i > 0 {
			fmt.Fprintln(w, strings.Repeat("-", 40))
		}
		fmt.Fprintf(w, "From: %s\n", formatAddress(m.From))
		if len(m.To) > 0 {
			fmt.Fprintf(w, "To: %s\n", formatAddresses(m.To))
		}
		if len(m.Cc) > 0 {
			fmt.Fprintf(w, "Cc: %s\n", formatAddresses(m.Cc))
		}
		fmt.Fprintf(w, "Date: %s (%s)\n", m.Date.Local().Format("Mon, 02 Jan 2006 15:04"), relativeTime(m.Date))
		if m.Sanitized.Has() {
			fmt.Fprintf(w, "Sanitized: %s\n", humanize.Time(m.Sanitized.At))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, wrapText(m.DisplayBody(), min(outputWidth(w), defaultWidth)))
	}
}

func printLabels(w io.Writer, labels []gmail.Label) {
	for _, l := range labels {
		fmt.Fprintf(w, "%s  %s  %s\n", fitWidth(l.ID, 24), fitWidth(l.Type, 6), l.Name)
	}
}

func formatAddress(a model.EmailAddress) string {
	if a.Name == "" || a.Name == a.Email {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func formatAddresses(list []model.EmailAddress) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, formatAddress(a))
	}
	return strings.Join(parts, ", ")
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

// fitWidth truncates and pads on the right to fit a fixed width
func fitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "...")
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

// rightFit truncates from the left and right-aligns to width
func rightFit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	// TruncateLeft drops cells, so cut only the overflow
	if over := runewidth.StringWidth(s) - width; over > 0 {
		s = runewidth.TruncateLeft(s, over, "")
	}
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s = strings.Repeat(" ", pad) + s
	}
	return s
}

// wrapText word-wraps to width by display cells. Fenced code blocks are left
// alone and a token wider than width gets a line to itself.
func wrapText(input string, width int) string {
	if width <= 0 {
		return input
	}
	lines := strings.Split(input, "\n")
	out := make([]string, 0, len(lines))
	inCode := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			out = append(out, line)
			continue
		}
		if inCode || runewidth.StringWidth(line) <= width {
			out = append(out, line)
			continue
		}

		cur, curLen := "", 0
		for _, tok := range strings.Fields(line) {
			tokLen := runewidth.StringWidth(tok)
			switch {
			case curLen == 0:
				cur, curLen = tok, tokLen
			case curLen+1+tokLen <= width:
				cur += " " + tok
				curLen += 1 + tokLen
			default:
				out = append(out, cur)
				cur, curLen = tok, tokLen
			}
		}
		out = append(out, cur)
	}
	return strings.Join(out, "\n")
}
