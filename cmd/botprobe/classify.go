package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/botprobe/internal/complexity"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [sql]",
		Short: "Print the complexity tier and estimated latency of a SQL query",
		Long: `Classify a SQL query the same way a run does. The query is taken from the
arguments, or read from stdin when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := strings.Join(args, " ")
			if len(args) == 0 {
				var sb strings.Builder
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					sb.WriteString(sc.Text())
					sb.WriteByte('\n')
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				sql = sb.String()
			}

			latency, label := complexity.Classify(sql)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.1fs\n", label, latency)
			return nil
		},
	}
}
