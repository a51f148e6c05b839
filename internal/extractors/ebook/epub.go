// Package ebook extracts EPUB books.
package ebook

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/extractors/plaintext"
)

const (
	maxPackageBytes = 4 << 20
	maxChapterBytes = 16 << 20
)

type EPUBExtractor struct {
	maxBytes int64
}

func NewEPUB(maxBytes int64) *EPUBExtractor { return &EPUBExtractor{maxBytes: maxBytes} }

func (e *EPUBExtractor) Name() string             { return "epub" }
func (e *EPUBExtractor) MaxFileSize() int64       { return e.maxBytes }
func (e *EPUBExtractor) SupportedTypes() []string { return []string{"application/epub+zip"} }

// Extract renders the spine in reading order, one page per chapter.
func (e *EPUBExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(in.Data), int64(len(in.Data)))
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("open archive: %w", err))
	}

	res := extract.Result{Method: "native", FileType: "epub", MIMEType: in.MIMEType}

	opfPath := findOPFPath(zr)
	if opfPath == "" {
		for _, f := range zr.File {
			if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
				opfPath = f.Name
				break
			}
		}
	}
	var spine []string
	if opfPath != "" {
		if b, err := readZipEntry(zr, opfPath, maxPackageBytes); err == nil {
			spine = parseOPF(b, path.Dir(opfPath), &res.Metadata)
		}
	}
	if len(spine) == 0 {
		for _, f := range zr.File {
			switch strings.ToLower(path.Ext(f.Name)) {
			case ".xhtml", ".html", ".htm":
				spine = append(spine, f.Name)
			}
		}
	}

	for _, item := range spine {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}
		b, err := readZipEntry(zr, item, maxChapterBytes)
		if err != nil {
			continue
		}
		text, tables, err := plaintext.RenderHTML(b, "application/xhtml+xml")
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		page := len(res.Pages) + 1
		for i := range tables {
			tables[i].PageNumber = page
		}
		res.Tables = append(res.Tables, tables...)
		res.Pages = append(res.Pages, extract.PageResult{PageNumber: page, Text: text, Method: "native"})
	}
	if len(res.Pages) == 0 && len(spine) > 0 {
		return extract.Result{}, extract.Parsingf(e.Name(), "no readable chapters in %d spine items", len(spine))
	}

	sep := ""
	if in.Config != nil && in.Config.PDF != nil {
		sep = in.Config.PDF.PageSeparator
	}
	res.Content = extract.JoinPages(res.Pages, sep)
	res.Metadata.Set("chapters", strconv.Itoa(len(res.Pages)))
	return res, nil
}

// findOPFPath reads META-INF/container.xml and returns the rootfile path.
func findOPFPath(zr *zip.Reader) string {
	b, err := readZipEntry(zr, "META-INF/container.xml", 2<<20)
	if err != nil {
		return ""
	}
	var c struct {
		Rootfiles []struct {
			FullPath string `xml:"full-path,attr"`
		} `xml:"rootfiles>rootfile"`
	}
	if err := xml.Unmarshal(b, &c); err != nil || len(c.Rootfiles) == 0 {
		return ""
	}
	return c.Rootfiles[0].FullPath
}

type opf struct {
	Metadata struct {
		Title       []string `xml:"title"`
		Creator     []string `xml:"creator"`
		Publisher   string   `xml:"publisher"`
		Language    string   `xml:"language"`
		Identifier  []string `xml:"identifier"`
		Description string   `xml:"description"`
		Date        []string `xml:"date"`
	} `xml:"metadata"`
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// parseOPF records the package metadata and returns the spine's archive
// paths in reading order.
func parseOPF(data []byte, dir string, meta *extract.Metadata) []string {
	var p opf
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil
	}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta.Set(k, v)
		}
	}
	first := func(vs []string) string {
		if len(vs) == 0 {
			return ""
		}
		return vs[0]
	}
	set("title", first(p.Metadata.Title))
	set("author", strings.Join(p.Metadata.Creator, ", "))
	set("publisher", p.Metadata.Publisher)
	set("language", p.Metadata.Language)
	set("identifier", first(p.Metadata.Identifier))
	set("description", p.Metadata.Description)
	set("date", first(p.Metadata.Date))

	hrefs := make(map[string]string, len(p.Manifest))
	for _, it := range p.Manifest {
		hrefs[it.ID] = it.Href
	}
	var paths []string
	for _, ref := range p.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		if dir != "" && dir != "." {
			href = path.Join(dir, href)
		}
		paths = append(paths, href)
	}
	return paths
}

func readZipEntry(zr *zip.Reader, name string, maxBytes int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if f.UncompressedSize64 > uint64(maxBytes) {
			return nil, fmt.Errorf("%s exceeds %dMB uncompressed limit", name, maxBytes>>20)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(b)) > maxBytes {
			return nil, fmt.Errorf("%s exceeds %dMB uncompressed limit", name, maxBytes>>20)
		}
		return b, nil
	}
	return nil, fmt.Errorf("not found: %s", name)
}
