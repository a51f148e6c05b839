package code

import (
	"context"
	"strings"
	"testing"

	"github.com/toricodesthings/docintel/internal/extract"
)

func TestNotebookExtractor(t *testing.T) {
	content := `{
	  "metadata": {"kernelspec": {"name": "python3", "language": "python"}},
	  "cells": [
	    {"cell_type": "markdown", "source": ["# Title\n"]},
	    {"cell_type": "code", "source": "print(1)\n", "outputs": [{"output_type": "stream", "text": ["1\n"]}]},
	    {"cell_type": "code", "source": []}
	  ]
	}`

	e := NewNotebook(1 << 20)
	res, err := e.Extract(context.Background(), extract.Input{Data: []byte(content), MIMEType: "application/x-ipynb+json"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.Content, "# Title") {
		t.Fatalf("missing markdown cell")
	}
	if !strings.Contains(res.Content, "```python\nprint(1)\n```") {
		t.Fatalf("missing code fence: %q", res.Content)
	}
	if !strings.Contains(res.Content, "```\n1\n```") {
		t.Fatalf("missing output: %q", res.Content)
	}
	if res.Metadata.Value("cell_count") != "3" || res.Metadata.Value("code_cell_count") != "1" || res.Metadata.Value("kernel") != "python3" {
		t.Fatalf("metadata = %v", res.Metadata.Map())
	}
}

func TestNotebookRejectsInvalidJSON(t *testing.T) {
	_, err := NewNotebook(0).Extract(context.Background(), extract.Input{Data: []byte("{not json")})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSourceExtractor(t *testing.T) {
	in := extract.Input{Data: []byte("package main\r\n\r\nfunc main() {}\r\n"), MIMEType: "text/x-go"}
	res, err := NewSource(0).Extract(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "```go\npackage main\n\nfunc main() {}\n```" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.Metadata.Value("programming_language") != "go" || res.Metadata.Value("line_count") != "3" {
		t.Fatalf("metadata = %v", res.Metadata.Map())
	}
}

func TestSourceSummarizesLargeFiles(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxLines+10; i++ {
		b.WriteString("x := 1\n")
		if i == 9000 {
			b.WriteString("func marker() {}\n")
		}
	}
	res, err := NewSource(0).Extract(context.Background(), extract.Input{Data: []byte(b.String()), MIMEType: "text/x-go"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.Value("summarized") != "true" || !strings.Contains(res.Content, "func marker() {}") {
		t.Fatalf("large file not summarized")
	}
	if strings.Count(res.Content, "x := 1") > 50 {
		t.Fatalf("summary kept too many body lines")
	}
}

func TestLaTeX(t *testing.T) {
	doc := `\documentclass{article}
\title{On Things}
\author{A. Writer}
\begin{document}
\maketitle
\section{Intro} % a comment
Some \textbf{bold} words, 50\% done.
\begin{itemize}
\item first
\end{itemize}
\end{document}`
	res, err := NewLaTeX(0).Extract(context.Background(), extract.Input{Data: []byte(doc)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.Value("title") != "On Things" || res.Metadata.Value("author") != "A. Writer" {
		t.Fatalf("metadata = %v", res.Metadata.Map())
	}
	for _, want := range []string{"# Intro", "Some bold words", "- first"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content missing %q:\n%s", want, res.Content)
		}
	}
	if strings.Contains(res.Content, "comment") || strings.Contains(res.Content, "documentclass") {
		t.Errorf("content kept markup: %q", res.Content)
	}
}
