package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toricodesthings/docintel/internal/cache"
)

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache size and location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := c.openCache(c.serviceConfig())
				if err != nil {
					return err
				}
				return printStats(cmd, m.Stats())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached result",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := c.openCache(c.serviceConfig())
				if err != nil {
					return err
				}
				before := m.Stats()
				if err := m.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries (%s)\n", before.Entries, humanize.Bytes(uint64(before.Bytes)))
				return nil
			},
		},
	)
	return cmd
}

func printStats(cmd *cobra.Command, s cache.Stats) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "dir\t%s\n", s.Dir)
	fmt.Fprintf(tw, "entries\t%d\n", s.Entries)
	fmt.Fprintf(tw, "size\t%s\n", humanize.Bytes(uint64(s.Bytes)))
	return tw.Flush()
}
