package tokenreduce

import (
	"strings"
	"testing"

	"github.com/toricodesthings/docintel/internal/config"
)

func TestReduceOff(t *testing.T) {
	in := "some   text\n\n\n\nhere"
	if got := Reduce(in, config.TokenReductionConfig{Mode: ModeOff}); got != in {
		t.Fatalf("off mode changed text: %q", got)
	}
}

func TestReduceLight(t *testing.T) {
	in := "The   quick\tbrown fox   \n\n\n\nﬁnal line"
	got := Reduce(in, config.TokenReductionConfig{Mode: ModeLight})
	want := "The quick brown fox\n\nfinal line"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReduceModerateDropsStopwords(t *testing.T) {
	in := "The report of the committee is ready!!!!!!"
	got := Reduce(in, config.TokenReductionConfig{Mode: ModeModerate})
	if strings.Contains(got, " of ") || strings.Contains(got, " is ") {
		t.Fatalf("stopwords kept: %q", got)
	}
	if !strings.HasSuffix(got, "ready!!!") {
		t.Fatalf("punctuation run not collapsed: %q", got)
	}
	if len(got) >= len(in) {
		t.Fatalf("moderate did not shrink text")
	}
}

func TestReduceAggressive(t *testing.T) {
	in := "# Heading\n\nSee [the docs](http://x) for **more** more details.\n\n\nEnd"
	got := Reduce(in, config.TokenReductionConfig{Mode: ModeAggressive})
	if strings.Contains(got, "#") || strings.Contains(got, "http") || strings.Contains(got, "**") {
		t.Fatalf("markdown not stripped: %q", got)
	}
	if strings.Contains(got, "\n\n") {
		t.Fatalf("blank lines kept: %q", got)
	}
	if strings.Contains(got, "more more") {
		t.Fatalf("repeated word kept: %q", got)
	}
}

func TestReducePreserveMarkdown(t *testing.T) {
	in := "## The Title\n| a | the | b |\n```\nthe code is here\n```\nthe body of text"
	got := Reduce(in, config.TokenReductionConfig{Mode: ModeAggressive, PreserveMarkdown: true})
	for _, keep := range []string{"## The Title", "| a | the | b |", "the code is here"} {
		if !strings.Contains(got, keep) {
			t.Fatalf("%q lost from %q", keep, got)
		}
	}
	if strings.Contains(got, "the body of") {
		t.Fatalf("prose not reduced: %q", got)
	}
}
