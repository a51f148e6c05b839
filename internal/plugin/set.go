package plugin

import (
	"errors"

	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/ocr"
)

// Set bundles the four registries the pipeline dispatches through.
type Set struct {
	Extractors     *Registry[extract.Extractor]
	OCR            *Registry[ocr.Backend]
	PostProcessors *Registry[extract.PostProcessor]
	Validators     *Registry[extract.Validator]
}

func NewSet() *Set {
	return &Set{
		Extractors:     NewRegistry[extract.Extractor]("extractor"),
		OCR:            NewRegistry[ocr.Backend]("ocr backend"),
		PostProcessors: NewRegistry[extract.PostProcessor]("post-processor"),
		Validators:     NewRegistry[extract.Validator]("validator"),
	}
}

// Option adjusts the descriptor derived from a plugin at registration.
type Option func(*Descriptor)

func WithPriority(p int) Option {
	return func(d *Descriptor) { d.Priority = p }
}

func WithName(name string) Option {
	return func(d *Descriptor) { d.Name = name }
}

func WithTypes(types ...string) Option {
	return func(d *Descriptor) { d.Types = types }
}

func WithRequires(features ...string) Option {
	return func(d *Descriptor) { d.Requires = features }
}

func apply(d Descriptor, opts []Option) Descriptor {
	for _, o := range opts {
		o(&d)
	}
	return d
}

// RegisterExtractor registers e under its name, supported types, declared
// priority and required features.
func (s *Set) RegisterExtractor(e extract.Extractor, opts ...Option) error {
	d := apply(Descriptor{
		Name:     e.Name(),
		Priority: extract.PriorityOf(e),
		Types:    e.SupportedTypes(),
		Requires: extract.RequiredFeaturesOf(e),
	}, opts)
	return s.Extractors.Register(e, d)
}

// RegisterOCR registers an OCR backend; its supported languages act as its
// type set.
func (s *Set) RegisterOCR(b ocr.Backend, opts ...Option) error {
	d := apply(Descriptor{
		Name:     b.Name(),
		Priority: extract.PriorityOf(b),
		Types:    b.SupportedLanguages(),
	}, opts)
	return s.OCR.Register(b, d)
}

func (s *Set) RegisterPostProcessor(p extract.PostProcessor, opts ...Option) error {
	d := apply(Descriptor{
		Name:     p.Name(),
		Priority: extract.PriorityOf(p),
		Requires: extract.RequiredFeaturesOf(p),
	}, opts)
	return s.PostProcessors.Register(p, d)
}

func (s *Set) RegisterValidator(v extract.Validator, opts ...Option) error {
	d := apply(Descriptor{Name: v.Name(), Priority: v.Priority()}, opts)
	return s.Validators.Register(v, d)
}

// Shutdown clears every registry, running each plugin's shutdown hook.
func (s *Set) Shutdown() error {
	return errors.Join(
		s.Validators.Clear(),
		s.PostProcessors.Clear(),
		s.OCR.Clear(),
		s.Extractors.Clear(),
	)
}
