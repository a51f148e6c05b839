// Package validators holds the built-in result validators.
package validators

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/toricodesthings/docintel/internal/extract"
)

// MinContent rejects results whose content is shorter than the configured
// minimums. Zero disables a check.
type MinContent struct {
	MinChars int
	MinWords int
}

func (MinContent) Name() string  { return "min-content" }
func (MinContent) Priority() int { return 100 }

func (m MinContent) Validate(_ context.Context, res extract.Result) error {
	if m.MinChars > 0 {
		if n := utf8.RuneCountInString(res.Content); n < m.MinChars {
			return fmt.Errorf("content has %d characters, need at least %d", n, m.MinChars)
		}
	}
	if m.MinWords > 0 {
		if n, _ := extract.BuildCounts(res.Content); n < m.MinWords {
			return fmt.Errorf("content has %d words, need at least %d", n, m.MinWords)
		}
	}
	return nil
}
