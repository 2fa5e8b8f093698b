package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ajramos/ebbsync/internal/gmail"
)

// LabelServiceImpl lists labels for the label filter
type LabelServiceImpl struct {
	lister LabelLister
}

// NewLabelService creates a new label service
func NewLabelService(lister LabelLister) *LabelServiceImpl {
	return &LabelServiceImpl{lister: lister}
}

// ListLabels returns system labels first, then user labels, each sorted by name
func (s *LabelServiceImpl) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	if s == nil || s.lister == nil {
		return nil, fmt.Errorf("label service not initialized")
	}
	labels, err := s.lister.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	sort.SliceStable(labels, func(i, j int) bool {
		si, sj := labels[i].Type == "system", labels[j].Type == "system"
		if si != sj {
			return si
		}
		return strings.ToLower(labels[i].Name) < strings.ToLower(labels[j].Name)
	})
	return labels, nil
}

// ResolveLabelIDs maps names or ids to label ids; unknown entries are an error
func (s *LabelServiceImpl) ResolveLabelIDs(ctx context.Context, namesOrIDs []string) ([]string, error) {
	if len(namesOrIDs) == 0 {
		return nil, nil
	}
	labels, err := s.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(namesOrIDs))
	for _, want := range namesOrIDs {
		want = strings.TrimSpace(want)
		found := ""
		for _, l := range labels {
			if l.ID == want || strings.EqualFold(l.Name, want) {
				found = l.ID
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("label %q: %w", want, ErrNotFound)
		}
		out = append(out, found)
	}
	return out, nil
}
