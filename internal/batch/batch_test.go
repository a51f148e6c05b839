package batch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
	"github.com/toricodesthings/docintel/internal/plugin"
)

// echoExtractor returns its input as content and rejects anything starting
// with "BROKEN".
type echoExtractor struct {
	inFlight, peak atomic.Int32
	delay          time.Duration
}

func (e *echoExtractor) Name() string             { return "echo" }
func (e *echoExtractor) SupportedTypes() []string { return []string{"text/plain"} }
func (e *echoExtractor) MaxFileSize() int64       { return 0 }

func (e *echoExtractor) Extract(_ context.Context, in extract.Input) (extract.Result, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(e.delay)
	if strings.HasPrefix(string(in.Data), "BROKEN") {
		return extract.Result{}, extract.Parsingf("echo", "malformed document")
	}
	return extract.Result{Content: string(in.Data)}, nil
}

func newCoordinator(t *testing.T, ex *echoExtractor, opts ...Option) *Coordinator {
	t.Helper()
	set := plugin.NewSet()
	if err := set.RegisterExtractor(ex); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = set.Shutdown() })
	engine := pipeline.New(set, pipeline.WithLogger(logger.Discard()))
	return New(engine, append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func requests(k int, broken int) []pipeline.Request {
	reqs := make([]pipeline.Request, k)
	for i := range reqs {
		body := fmt.Sprintf("document number %d", i)
		if i == broken {
			body = "BROKEN " + body
		}
		reqs[i] = pipeline.Request{Data: []byte(body), MIMEType: "text/plain"}
	}
	return reqs
}

func sharedConfig() *config.ExtractionConfig {
	return &config.ExtractionConfig{Quality: config.DefaultQualityWeights()}
}

func TestBatchKeepsOrderAndIsolatesFailures(t *testing.T) {
	c := newCoordinator(t, &echoExtractor{})
	const k, broken = 6, 3

	results, err := c.Batch(context.Background(), requests(k, broken), sharedConfig())
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(results) != k {
		t.Fatalf("got %d results, want %d", len(results), k)
	}
	for i, r := range results {
		if i == broken {
			continue
		}
		if !r.Success || r.Content != fmt.Sprintf("document number %d", i) {
			t.Fatalf("result %d out of order or failed: %+v", i, r)
		}
	}

	bad := results[broken]
	if bad.Success || bad.Error == nil {
		t.Fatalf("broken item not marked failed: %+v", bad)
	}
	if bad.Error.Type != "ParsingError" {
		t.Fatalf("error_type = %q", bad.Error.Type)
	}
	if !strings.HasPrefix(bad.Content, "Error: ParsingError: ") {
		t.Fatalf("content = %q", bad.Content)
	}
	if bad.Metadata.Value("error_type") != "ParsingError" || bad.Metadata.Value("error_message") == "" {
		t.Fatalf("metadata = %v", bad.Metadata.Map())
	}
}

func TestBatchAsyncMatchesSync(t *testing.T) {
	ex := &echoExtractor{delay: 5 * time.Millisecond}
	c := newCoordinator(t, ex, WithWorkers(3))
	reqs := requests(12, 7)

	seq, err := c.Batch(context.Background(), reqs, sharedConfig())
	if err != nil {
		t.Fatal(err)
	}
	async, err := c.BatchAsync(context.Background(), reqs, sharedConfig()).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != len(async) {
		t.Fatalf("lengths differ: %d vs %d", len(seq), len(async))
	}
	for i := range seq {
		if !reflect.DeepEqual(seq[i], async[i]) {
			t.Fatalf("item %d differs:\nsync  %+v\nasync %+v", i, seq[i], async[i])
		}
	}
	if p := ex.peak.Load(); p > 3 {
		t.Fatalf("peak concurrency %d exceeds worker limit 3", p)
	}
}

func TestBatchEmpty(t *testing.T) {
	c := newCoordinator(t, &echoExtractor{})
	results, err := c.Batch(context.Background(), nil, nil)
	if err != nil || len(results) != 0 {
		t.Fatalf("Batch(nil) = %v, %v", results, err)
	}
	async, err := c.BatchAsync(context.Background(), nil, nil).Wait(context.Background())
	if err != nil || len(async) != 0 {
		t.Fatalf("BatchAsync(nil) = %v, %v", async, err)
	}
}

func TestBatchInvalidSharedConfig(t *testing.T) {
	c := newCoordinator(t, &echoExtractor{})
	cfg := sharedConfig()
	cfg.TokenReduction = &config.TokenReductionConfig{Mode: "extreme"}

	if _, err := c.Batch(context.Background(), requests(2, -1), cfg); !errors.Is(err, extract.ErrValidation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, err := c.BatchAsync(context.Background(), requests(2, -1), cfg).Wait(context.Background()); !errors.Is(err, extract.ErrValidation) {
		t.Fatalf("async err = %v, want ValidationError", err)
	}
}

func TestBatchPerItemConfig(t *testing.T) {
	c := newCoordinator(t, &echoExtractor{})
	reqs := requests(2, -1)
	reqs[1].Config = sharedConfig()
	reqs[1].Config.Chunking = &config.ChunkingConfig{MaxChars: 16}

	results, err := c.Batch(context.Background(), reqs, sharedConfig())
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Chunks != nil || results[1].Chunks == nil {
		t.Fatalf("per-item config not honoured")
	}
}
