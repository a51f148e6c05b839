// Package office extracts OOXML documents (docx, xlsx, pptx) and legacy
// binary Office files via LibreOffice.
package office

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

const (
	defaultMaxZipEntryBytes    int64 = 64 << 20
	defaultMaxZipMetadataBytes int64 = 1 << 20
)

func openZip(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

// readZipFile reads one archive member, refusing members that decompress
// past limit.
func readZipFile(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if limit > 0 && f.UncompressedSize64 > uint64(limit) {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, limit)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		r := io.Reader(rc)
		if limit > 0 {
			r = io.LimitReader(rc, limit+1)
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if limit > 0 && int64(len(b)) > limit {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, limit)
		}
		return b, nil
	}
	return nil, fmt.Errorf("missing %s", name)
}

var coreKeys = map[string]string{
	"title":          "title",
	"creator":        "author",
	"created":        "created",
	"modified":       "modified",
	"description":    "description",
	"subject":        "subject",
	"keywords":       "keywords",
	"lastModifiedBy": "last_modified_by",
}

// parseCoreMetadata copies docProps/core.xml fields into meta.
func parseCoreMetadata(zr *zip.Reader, meta *extract.Metadata) {
	b, err := readZipFile(zr, "docProps/core.xml", defaultMaxZipMetadataBytes)
	if err != nil {
		return
	}
	dec := xml.NewDecoder(bytes.NewReader(b))
	current := ""
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			if key, ok := coreKeys[current]; ok {
				if v := strings.TrimSpace(string(t)); v != "" {
					meta.Set(key, v)
				}
			}
		case xml.EndElement:
			current = ""
		}
	}
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
