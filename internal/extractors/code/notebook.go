package code

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

type NotebookExtractor struct {
	maxBytes int64
}

func NewNotebook(maxBytes int64) *NotebookExtractor { return &NotebookExtractor{maxBytes: maxBytes} }

func (e *NotebookExtractor) Name() string             { return "notebook" }
func (e *NotebookExtractor) MaxFileSize() int64       { return e.maxBytes }
func (e *NotebookExtractor) SupportedTypes() []string { return []string{"application/x-ipynb+json"} }
func (e *NotebookExtractor) Priority() int            { return 60 }

// source is a notebook text field: either a string or a list of lines.
type source string

func (s *source) UnmarshalJSON(b []byte) error {
	var lines []string
	if err := json.Unmarshal(b, &lines); err == nil {
		*s = source(strings.Join(lines, ""))
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = source(str)
	return nil
}

type notebook struct {
	Cells []struct {
		CellType string `json:"cell_type"`
		Source   source `json:"source"`
		Outputs  []struct {
			OutputType string `json:"output_type"`
			Text       source `json:"text"`
			Data       struct {
				Text source `json:"text/plain"`
			} `json:"data"`
		} `json:"outputs"`
	} `json:"cells"`
	Metadata struct {
		Kernel struct {
			Language string `json:"language"`
			Name     string `json:"name"`
		} `json:"kernelspec"`
		Language struct {
			Name string `json:"name"`
		} `json:"language_info"`
	} `json:"metadata"`
}

func (e *NotebookExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	var nb notebook
	if err := json.Unmarshal(in.Data, &nb); err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("decode notebook: %w", err))
	}

	lang := nb.Metadata.Language.Name
	if lang == "" {
		lang = nb.Metadata.Kernel.Language
	}
	if lang == "" {
		lang = "python"
	}

	parts := make([]string, 0, len(nb.Cells))
	codeCells := 0
	for _, c := range nb.Cells {
		src := strings.TrimSpace(string(c.Source))
		if src == "" {
			continue
		}
		if c.CellType != "code" {
			parts = append(parts, src)
			continue
		}
		codeCells++
		parts = append(parts, "```"+lang+"\n"+src+"\n```")
		for _, o := range c.Outputs {
			out := strings.TrimSpace(string(o.Text))
			if out == "" {
				out = strings.TrimSpace(string(o.Data.Text))
			}
			if out != "" {
				parts = append(parts, "```\n"+out+"\n```")
			}
		}
	}

	res := extract.Result{
		Content:  strings.Join(parts, "\n\n"),
		Method:   "native",
		FileType: "application/x-ipynb+json",
		MIMEType: in.MIMEType,
	}
	res.Metadata.Set("programming_language", lang)
	res.Metadata.Set("cell_count", strconv.Itoa(len(nb.Cells)))
	res.Metadata.Set("code_cell_count", strconv.Itoa(codeCells))
	if k := nb.Metadata.Kernel.Name; k != "" {
		res.Metadata.Set("kernel", k)
	}
	return res, nil
}
