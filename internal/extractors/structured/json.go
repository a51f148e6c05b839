package structured

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/toricodesthings/docintel/internal/extract"
)

type JSONExtractor struct {
	maxBytes int64
}

func NewJSON(maxBytes int64) *JSONExtractor { return &JSONExtractor{maxBytes: maxBytes} }

func (e *JSONExtractor) Name() string       { return "json" }
func (e *JSONExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *JSONExtractor) SupportedTypes() []string {
	return []string{"application/json", "application/x-ndjson", "application/geo+json"}
}

func (e *JSONExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}
	res := extract.Result{Method: "native", FileType: "application/json", MIMEType: in.MIMEType}

	if in.MIMEType == "application/x-ndjson" {
		docs, err := formatJSONL(in.Data)
		if err != nil {
			return extract.Result{}, extract.Parsing(e.Name(), err)
		}
		res.Content = strings.Join(docs, "\n\n")
		res.Metadata.Set("records", strconv.Itoa(len(docs)))
		return res, nil
	}

	var obj any
	if err := json.Unmarshal(in.Data, &obj); err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("decode json: %w", err))
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), err)
	}
	res.Content = string(out)
	if keys := topLevelKeys(obj); keys != "" {
		res.Metadata.Set("keys", keys)
	}
	return res, nil
}

func formatJSONL(b []byte) ([]string, error) {
	var docs []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		trim := bytes.TrimSpace(sc.Bytes())
		if len(trim) == 0 {
			continue
		}
		var obj any
		if err := json.Unmarshal(trim, &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out, _ := json.MarshalIndent(obj, "", "  ")
		docs = append(docs, string(out))
	}
	return docs, sc.Err()
}

func topLevelKeys(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
