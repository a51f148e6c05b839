package postprocess

import (
	"context"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

// Stats records document statistics in the metadata once the content is
// final.
type Stats struct{}

func (Stats) Name() string         { return "metadata-stats" }
func (Stats) Stage() extract.Stage { return extract.StageLate }

func (Stats) Process(_ context.Context, res extract.Result) (extract.Result, error) {
	words, chars := extract.BuildCounts(res.Content)
	lines := 0
	if res.Content != "" {
		lines = strings.Count(res.Content, "\n") + 1
	}
	res.Metadata.Set("stats.word_count", strconv.Itoa(words))
	res.Metadata.Set("stats.char_count", strconv.Itoa(chars))
	res.Metadata.Set("stats.line_count", strconv.Itoa(lines))
	res.Metadata.Set("stats.table_count", strconv.Itoa(len(res.Tables)))
	if len(res.Pages) > 0 {
		res.Metadata.Set("stats.page_count", strconv.Itoa(len(res.Pages)))
	}
	if len(res.Chunks) > 0 {
		res.Metadata.Set("stats.chunk_count", strconv.Itoa(len(res.Chunks)))
	}
	return res, nil
}
