package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
	"github.com/sahilm/fuzzy"
)

const maxCandidates = 5

// AmbiguousRefError is returned when a reference matches several tasks.
type AmbiguousRefError struct {
	Ref        string
	Total      int
	Candidates []models.Task
}

func (e *AmbiguousRefError) Error() string {
	parts := make([]string, 0, len(e.Candidates))
	for _, t := range e.Candidates {
		parts = append(parts, fmt.Sprintf("%s (%s)", shortID(t.ID), t.Title))
	}
	return fmt.Sprintf("%q matches %d tasks: %s", e.Ref, e.Total, strings.Join(parts, ", "))
}

// Resolve finds a live task by exact id, then unique id prefix, then exact
// title, then a unique fuzzy title match.
func (s *Service) Resolve(ctx context.Context, ref string) (*models.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &models.ValidationError{Field: "ref", Message: "task reference is required"}
	}

	t, err := s.store.Get(ctx, ref)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	all, err := s.store.List(ctx, models.TaskFilters{})
	if err != nil {
		return nil, err
	}

	var byPrefix []models.Task
	for _, t := range all {
		if strings.HasPrefix(t.ID, ref) {
			byPrefix = append(byPrefix, t)
		}
	}
	if found, err := pick(ref, byPrefix); found != nil || err != nil {
		return found, err
	}

	var byTitle []models.Task
	for _, t := range all {
		if strings.EqualFold(t.Title, ref) {
			byTitle = append(byTitle, t)
		}
	}
	if found, err := pick(ref, byTitle); found != nil || err != nil {
		return found, err
	}

	titles := make([]string, len(all))
	for i, t := range all {
		titles[i] = t.Title
	}
	var fuzzyHits []models.Task
	for _, m := range fuzzy.Find(ref, titles) {
		fuzzyHits = append(fuzzyHits, all[m.Index])
	}
	if found, err := pick(ref, fuzzyHits); found != nil || err != nil {
		return found, err
	}
	return nil, fmt.Errorf("%q: %w", ref, store.ErrNotFound)
}

func pick(ref string, matches []models.Task) (*models.Task, error) {
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		t := matches[0]
		return &t, nil
	}
	total := len(matches)
	if total > maxCandidates {
		matches = matches[:maxCandidates]
	}
	return nil, &AmbiguousRefError{Ref: ref, Total: total, Candidates: matches}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
