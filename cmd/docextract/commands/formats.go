package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/filetype"
	"github.com/toricodesthings/docintel/internal/plugin"
)

func (c *cli) formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported document types and the extractors that handle them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.serviceConfig()
			cfg.CacheEnabled = false
			engine, shutdown, err := c.engine(cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			// List what would serve a request with OCR enabled too.
			features := plugin.NewFeatures(config.FeatureOCR)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MIME TYPE\tEXTENSIONS\tEXTRACTORS")
			for _, mt := range filetype.KnownTypes() {
				var names []string
				for _, cand := range engine.Plugins().Extractors.Resolve(mt, features) {
					names = append(names, cand.Name())
				}
				if len(names) == 0 {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", mt, strings.Join(filetype.Extensions(mt), " "), strings.Join(names, ", "))
			}
			return tw.Flush()
		},
	}
}
