// ABOUTME: Sensitive-content predicate consulted before a prompt reaches the backend
// ABOUTME: WordFilter matches case-insensitive substrings from a configured word list

package audit

import (
	"context"
	"strings"
)

// Predicate reports whether text must be rejected.
type Predicate interface {
	Sensitive(ctx context.Context, text string) (bool, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, text string) (bool, error)

// Sensitive calls f.
func (f PredicateFunc) Sensitive(ctx context.Context, text string) (bool, error) {
	return f(ctx, text)
}

// WordFilter flags text containing any of its words.
type WordFilter struct {
	words []string
}

// NewWordFilter creates a filter. Blank words are dropped and matching ignores case.
func NewWordFilter(words []string) *WordFilter {
	f := &WordFilter{}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			f.words = append(f.words, w)
		}
	}
	return f
}

// Sensitive implements Predicate.
func (f *WordFilter) Sensitive(_ context.Context, text string) (bool, error) {
	if len(f.words) == 0 {
		return false, nil
	}
	lower := strings.ToLower(text)
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of configured words.
func (f *WordFilter) Len() int {
	return len(f.words)
}
