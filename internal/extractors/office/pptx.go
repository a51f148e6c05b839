package office

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

type PPTXExtractor struct {
	maxBytes int64
}

func NewPPTX(maxBytes int64) *PPTXExtractor {
	return &PPTXExtractor{maxBytes: maxBytes}
}

func (e *PPTXExtractor) Name() string       { return "pptx" }
func (e *PPTXExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *PPTXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.presentationml.presentation"}
}

// Extract renders each slide, with its speaker notes, as one page.
func (e *PPTXExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	zr, err := openZip(in.Data)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("open pptx: %w", err))
	}

	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		rest, ok := strings.CutPrefix(f.Name, "ppt/slides/slide")
		if !ok || !strings.HasSuffix(rest, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(rest, ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	res := extract.Result{Method: "native", FileType: "pptx", MIMEType: in.MIMEType}
	parseCoreMetadata(zr, &res.Metadata)
	res.Metadata.Set("slides", strconv.Itoa(len(slides)))

	for i, s := range slides {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}
		b, err := readZipFile(zr, s.name, defaultMaxZipEntryBytes)
		if err != nil {
			return extract.Result{}, extract.Parsing(e.Name(), err)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Slide %d", i+1)
		if text := pptxTextBlocks(b); text != "" {
			sb.WriteString("\n\n" + text)
		}
		notesPath := fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", s.num)
		if nb, err := readZipFile(zr, notesPath, defaultMaxZipEntryBytes); err == nil {
			if notes := pptxTextBlocks(nb); notes != "" {
				sb.WriteString("\n\n> **Speaker Notes:**\n> " + strings.ReplaceAll(notes, "\n", "\n> "))
			}
		}
		res.Pages = append(res.Pages, extract.PageResult{PageNumber: i + 1, Text: sb.String(), Method: "native"})
	}
	res.Content = extract.JoinPages(res.Pages, pageSeparator(in))
	return res, nil
}

func pageSeparator(in extract.Input) string {
	if in.Config != nil && in.Config.PDF != nil {
		return in.Config.PDF.PageSeparator
	}
	return ""
}

// pptxTextBlocks joins the text runs of each DrawingML paragraph.
func pptxTextBlocks(b []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(b))
	var paragraphs, current []string
	inParagraph, inText := false, false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current = nil
			case "t":
				inText = true
			}
		case xml.CharData:
			if inParagraph && inText {
				if s := strings.TrimSpace(string(t)); s != "" {
					current = append(current, s)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := strings.Join(current, " "); text != "" {
					paragraphs = append(paragraphs, text)
				}
				inParagraph = false
				current = nil
			}
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
