package plaintext

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/toricodesthings/docintel/internal/extract"
)

type HTMLExtractor struct {
	maxBytes int64
}

func NewHTML(maxBytes int64) *HTMLExtractor { return &HTMLExtractor{maxBytes: maxBytes} }

func (e *HTMLExtractor) Name() string       { return "html" }
func (e *HTMLExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *HTMLExtractor) SupportedTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func (e *HTMLExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	doc, root, err := parseHTML(in.Data, in.MIMEType)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), err)
	}

	res := extract.Result{Method: "native", FileType: "text/html", MIMEType: in.MIMEType}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		res.Metadata.Set("title", title)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(desc) != "" {
		res.Metadata.Set("description", strings.TrimSpace(desc))
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok && lang != "" {
		res.Metadata.Set("html_lang", lang)
	}

	res.Tables = tables(doc)
	res.Content = textOf(root, res.Tables)
	return res, nil
}

// RenderHTML converts an HTML document to markdown-like text plus its
// tables. contentType may carry a charset parameter.
func RenderHTML(data []byte, contentType string) (string, []extract.Table, error) {
	doc, root, err := parseHTML(data, contentType)
	if err != nil {
		return "", nil, err
	}
	tbls := tables(doc)
	return textOf(root, tbls), tbls, nil
}

func parseHTML(data []byte, contentType string) (*goquery.Document, *html.Node, error) {
	r, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return nil, nil, err
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, nil, err
	}
	return goquery.NewDocumentFromNode(root), root, nil
}

// tables collects every <table> as rows of cell text.
func tables(doc *goquery.Document) []extract.Table {
	var out []extract.Table
	doc.Find("table").Each(func(i int, t *goquery.Selection) {
		var rows [][]string
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				row = append(row, strings.Join(strings.Fields(cell.Text()), " "))
			})
			if len(row) > 0 {
				rows = append(rows, row)
			}
		})
		if len(rows) == 0 {
			return
		}
		name := strings.TrimSpace(t.Find("caption").First().Text())
		out = append(out, extract.NewTable(name, rows))
	})
	return out
}

var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true, "aside": true,
	"noscript": true, "template": true, "head": true,
}

// textOf renders headings, paragraphs and list items as markdown-like
// blocks. Tables are emitted in place as markdown.
func textOf(root *html.Node, tbls []extract.Table) string {
	var blocks []string
	tableIdx := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if skipTags[tag] {
				return
			}
			switch tag {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				if t := collapse(nodeText(n)); t != "" {
					blocks = append(blocks, strings.Repeat("#", int(tag[1]-'0'))+" "+t)
				}
				return
			case "p", "li", "blockquote", "pre", "dd", "dt":
				if t := collapse(nodeText(n)); t != "" {
					if tag == "li" {
						t = "- " + t
					}
					blocks = append(blocks, t)
				}
				return
			case "table":
				if tableIdx < len(tbls) {
					blocks = append(blocks, tbls[tableIdx].Markdown)
					tableIdx++
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if len(blocks) == 0 {
		return collapse(nodeText(root))
	}
	return strings.Join(blocks, "\n\n")
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode && skipTags[strings.ToLower(n.Data)] {
		return ""
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
		if c.Type == html.ElementNode && c.Data == "br" {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
