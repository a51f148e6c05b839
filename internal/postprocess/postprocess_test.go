package postprocess

import (
	"context"
	"testing"

	"github.com/toricodesthings/docintel/internal/extract"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\n\nb"},
		{"inner spaces", "one   two\tthree  ", "one two three"},
		{"indent kept", "list:\n    item  one", "list:\n    item one"},
		{"invisible", "zero\u200Bwidth\u00A0space", "zerowidth space"},
		{"trim", "\n\n  text  \n\n", "text"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in, 2); got != tc.want {
			t.Errorf("%s: Normalize(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestWhitespaceProcessesPages(t *testing.T) {
	res := extract.Result{
		Content: "page  one\r\n\r\n\r\n\r\npage two",
		Pages:   []extract.PageResult{{PageNumber: 1, Text: "page   one  "}},
	}
	out, err := Whitespace{}.Process(context.Background(), res)
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "page one\n\n\npage two" {
		t.Fatalf("content = %q", out.Content)
	}
	if out.Pages[0].Text != "page one" || out.Pages[0].WordCount != 2 {
		t.Fatalf("page = %+v", out.Pages[0])
	}
	if out.WordCount != 4 {
		t.Fatalf("word count = %d", out.WordCount)
	}
}

func TestWhitespaceMaxBlankLines(t *testing.T) {
	out, _ := Whitespace{MaxBlankLines: 1}.Process(context.Background(), extract.Result{Content: "a\n\n\n\nb"})
	if out.Content != "a\n\nb" {
		t.Fatalf("content = %q", out.Content)
	}
}

func TestStats(t *testing.T) {
	res := extract.Result{
		Content: "alpha beta\ngamma",
		Tables:  []extract.Table{extract.NewTable("t", [][]string{{"h"}, {"v"}})},
		Pages:   []extract.PageResult{{PageNumber: 1}, {PageNumber: 2}},
	}
	out, err := Stats{}.Process(context.Background(), res)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"stats.word_count":  "3",
		"stats.char_count":  "16",
		"stats.line_count":  "2",
		"stats.table_count": "1",
		"stats.page_count":  "2",
	}
	for k, v := range want {
		if got := out.Metadata.Value(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if _, ok := out.Metadata.Get("stats.chunk_count"); ok {
		t.Errorf("chunk_count set without chunks")
	}
}
