package reconcile

import (
	"sort"

	"github.com/ajramos/ebbsync/internal/model"
)

// ResolveSanitized applies the precedence fresh > preserved > absent.
// Prior content of any state survives as Preserved when incoming is not Fresh.
func ResolveSanitized(prior, incoming model.Sanitized) model.Sanitized {
	if incoming.State == model.SanitizedFresh {
		return incoming
	}
	if prior.Has() {
		return model.PreservedSanitized(prior.Body, prior.At)
	}
	if incoming.Has() {
		return incoming
	}
	return model.Sanitized{}
}

// PreserveThread carries sanitized bodies from prior onto incoming, per message id
func PreserveThread(prior, incoming model.Thread) model.Thread {
	if len(prior.Messages) == 0 {
		return incoming
	}
	old := make(map[string]model.Sanitized, len(prior.Messages))
	for _, m := range prior.Messages {
		if m.Sanitized.Has() {
			old[m.ID] = m.Sanitized
		}
	}
	if len(old) == 0 {
		return incoming
	}

	out := incoming
	out.Messages = make([]model.Message, len(incoming.Messages))
	for i, m := range incoming.Messages {
		if p, ok := old[m.ID]; ok {
			m.Sanitized = ResolveSanitized(p, m.Sanitized)
		}
		out.Messages[i] = m
	}
	return out
}

// Merge overlays incoming threads onto existing ones by id and returns the
// collection ordered by last message date, newest first. Ties keep their
// previous relative order. Merging the same incoming set twice is a no-op.
func Merge(existing, incoming []model.Thread) []model.Thread {
	index := make(map[string]int, len(existing)+len(incoming))
	out := make([]model.Thread, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if i, ok := index[t.ID]; ok {
			out[i] = t
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	for _, t := range incoming {
		if i, ok := index[t.ID]; ok {
			out[i] = PreserveThread(out[i], t)
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageDate().After(out[j].LastMessageDate())
	})
	return out
}
