package structured

import (
	"context"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/toricodesthings/docintel/internal/extract"
)

// YAMLExtractor renders YAML and TOML documents as normalized YAML.
type YAMLExtractor struct {
	maxBytes int64
}

func NewYAML(maxBytes int64) *YAMLExtractor { return &YAMLExtractor{maxBytes: maxBytes} }

func (e *YAMLExtractor) Name() string       { return "yaml" }
func (e *YAMLExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *YAMLExtractor) SupportedTypes() []string {
	return []string{"application/yaml", "text/yaml", "application/x-yaml", "application/toml"}
}

func (e *YAMLExtractor) Extract(ctx context.Context, in extract.Input) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{}, err
	}

	var obj any
	fileType := "application/yaml"
	if in.MIMEType == "application/toml" {
		fileType = "application/toml"
		if err := toml.Unmarshal(in.Data, &obj); err != nil {
			return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("decode toml: %w", err))
		}
	} else if err := yaml.Unmarshal(in.Data, &obj); err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), fmt.Errorf("decode yaml: %w", err))
	}

	out, err := yaml.Marshal(obj)
	if err != nil {
		return extract.Result{}, extract.Parsing(e.Name(), err)
	}
	return extract.Result{
		Content:  strings.TrimSpace(string(out)),
		Method:   "native",
		FileType: fileType,
		MIMEType: in.MIMEType,
	}, nil
}
