// Package moderation scores user-authored content before it reaches the
// confirmation step. The scorer is deliberately opaque to the flow: it takes
// text and returns a label.
package moderation

import (
	"context"
	"strings"
)

// Label classifies message content.
type Label string

const (
	// LabelNone means the content has not been scored.
	LabelNone Label = ""
	// LabelClear means the content passed the check.
	LabelClear Label = "clear"
	// LabelFlagged means the content tripped the check and needs an extra
	// confirmation from the author.
	LabelFlagged Label = "flagged"
)

// Scorer classifies message content.
type Scorer interface {
	Score(ctx context.Context, text string) (Label, error)
}

// Disabled is a Scorer that never flags anything.
type Disabled struct{}

// Score always returns LabelClear.
func (Disabled) Score(context.Context, string) (Label, error) {
	return LabelClear, nil
}

// Blocklist flags content containing any of the configured terms.
// Matching is case-insensitive and substring-based; it is intentionally a
// blunt instrument, the flagged path still lets the author send anyway.
type Blocklist struct {
	terms []string
}

// NewBlocklist builds a Blocklist scorer from configured terms.
func NewBlocklist(terms []string) *Blocklist {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return &Blocklist{terms: cleaned}
}

// Score returns LabelFlagged when any blocklist term occurs in the text.
func (b *Blocklist) Score(_ context.Context, text string) (Label, error) {
	lowered := strings.ToLower(text)
	for _, term := range b.terms {
		if strings.Contains(lowered, term) {
			return LabelFlagged, nil
		}
	}
	return LabelClear, nil
}
