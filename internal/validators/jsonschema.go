package validators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/toricodesthings/docintel/internal/extract"
)

// JSONSchema checks the JSON form of a result against a schema. The schema
// compiles on first use; a bad schema fails every validation after that.
type JSONSchema struct {
	source []byte
	schema *jsonschema.Schema
}

// NewJSONSchema validates against the schema document in src.
func NewJSONSchema(src []byte) *JSONSchema {
	return &JSONSchema{source: append([]byte(nil), src...)}
}

// LoadJSONSchema reads the schema from path.
func LoadJSONSchema(path string) (*JSONSchema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return NewJSONSchema(b), nil
}

func (*JSONSchema) Name() string  { return "jsonschema" }
func (*JSONSchema) Priority() int { return 50 }

func (v *JSONSchema) Initialize() error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.schema.json", bytes.NewReader(v.source)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("result.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	v.schema = schema
	return nil
}

func (v *JSONSchema) Validate(_ context.Context, res extract.Result) error {
	if v.schema == nil {
		return fmt.Errorf("schema not compiled")
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("result does not match schema: %w", err)
	}
	return nil
}
