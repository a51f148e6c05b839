package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toricodesthings/docintel/internal/batch"
	"github.com/toricodesthings/docintel/internal/extract"
	"github.com/toricodesthings/docintel/internal/logger"
	"github.com/toricodesthings/docintel/internal/pipeline"
)

// batchLine is one line of batch output.
type batchLine struct {
	File   string         `json:"file"`
	Result extract.Result `json:"result"`
}

func (c *cli) batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch FILE...",
		Short: "Extract many documents concurrently",
		Long: `Extract every FILE and print one JSON line per file, in argument order.

A file that fails to extract produces a line with success=false and an
error; the remaining files are still processed. The command exits non-zero
when any file failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.runBatch,
	}
	addExtractionFlags(cmd)
	cmd.Flags().IntP("workers", "w", 0, "parallel extractions (default: service setting)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	_ = c.v.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	return cmd
}

func (c *cli) runBatch(cmd *cobra.Command, args []string) error {
	cfg := c.serviceConfig()
	shared, err := extractionConfig(cmd, cfg)
	if err != nil {
		return err
	}

	engine, shutdown, err := c.engine(cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	reqs := make([]pipeline.Request, len(args))
	for i, path := range args {
		reqs[i] = pipeline.Request{Path: path}
	}

	ctx := cmdContext(cmd)
	start := time.Now()
	coord := batch.New(engine, batch.WithWorkers(cfg.BatchWorkers))
	results, err := coord.BatchAsync(ctx, reqs, shared).Wait(ctx)
	if err != nil {
		return err
	}

	out, closeOut, err := outputWriter(cmd)
	if err != nil {
		return err
	}
	defer closeOut()

	enc := json.NewEncoder(out)
	failed := 0
	for i, res := range results {
		if !res.Success {
			failed++
		}
		if err := enc.Encode(batchLine{File: args[i], Result: res}); err != nil {
			return err
		}
	}

	logger.Info("batch complete",
		"files", len(args),
		"failed", failed,
		"workers", cfg.BatchWorkers,
		"took", time.Since(start).Round(time.Millisecond),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
