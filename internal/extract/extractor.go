package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/toricodesthings/docintel/internal/config"
)

// DefaultPriority is used for plugins that do not declare one.
const DefaultPriority = 50

// Extractor is implemented by every file-type handler.
type Extractor interface {
	Extract(ctx context.Context, in Input) (Result, error)
	SupportedTypes() []string
	Name() string
	MaxFileSize() int64
}

// Prioritized plugins override DefaultPriority.
type Prioritized interface {
	Priority() int
}

// FeatureRequirer plugins are only dispatched when every named feature is
// enabled by the request configuration.
type FeatureRequirer interface {
	RequiredFeatures() []string
}

// Stage orders post-processors within the pipeline.
type Stage int

const (
	StageEarly Stage = iota
	StageMiddle
	StageLate
)

func (s Stage) String() string {
	switch s {
	case StageEarly:
		return "early"
	case StageMiddle:
		return "middle"
	case StageLate:
		return "late"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// PostProcessor transforms a result. It receives a copy and returns a new value.
type PostProcessor interface {
	Name() string
	Stage() Stage
	Process(ctx context.Context, res Result) (Result, error)
}

// Validator inspects a finished result. A non-nil error rejects it.
type Validator interface {
	Name() string
	Priority() int
	Validate(ctx context.Context, res Result) error
}

// PriorityOf returns the declared priority of p or DefaultPriority.
func PriorityOf(p any) int {
	if pp, ok := p.(Prioritized); ok {
		return pp.Priority()
	}
	return DefaultPriority
}

// RequiredFeaturesOf returns the features p declares, if any.
func RequiredFeaturesOf(p any) []string {
	if fr, ok := p.(FeatureRequirer); ok {
		return fr.RequiredFeatures()
	}
	return nil
}

// Input is what an extractor sees: the document bytes plus whatever the
// pipeline resolved about them.
type Input struct {
	Data     []byte
	Path     string // set when the request referenced a file on disk
	FileName string
	MIMEType string
	Config   *config.ExtractionConfig
}

func (in Input) Size() int64 { return int64(len(in.Data)) }

// Ext returns the lower-cased file extension including the dot.
func (in Input) Ext() string {
	name := in.FileName
	if name == "" {
		name = in.Path
	}
	return strings.ToLower(filepath.Ext(name))
}

// LocalFile returns a path holding the document, writing the bytes to a
// private temp file when the request did not come from disk. The cleanup
// func is always non-nil.
func (in Input) LocalFile() (string, func(), error) {
	if in.Path != "" {
		if _, err := os.Stat(in.Path); err == nil {
			return in.Path, func() {}, nil
		}
	}
	dir, err := os.MkdirTemp("", "docintel-")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdtemp: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	ext := in.Ext()
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, in.Data, 0o600); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("write temp input: %w", err)
	}
	return path, cleanup, nil
}
