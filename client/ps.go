package main

import (
	"fmt"
	"io"
	"time"

	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/state"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List tracked blocks",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		output := lo.Must(cmd.Flags().GetString("output"))
		if output != "table" && output != "yaml" {
			return fmt.Errorf("unknown output format '%s'", output)
		}

		if lo.Must(cmd.Flags().GetBool("submissions")) {
			submissions, err := provider.Submissions()
			if err != nil {
				return err
			}
			if output == "yaml" {
				return writeYAML(cmd.OutOrStdout(), lo.Ternary(submissions != nil, submissions, []providerpkg.Submission{}))
			}
			writeSubmissions(cmd.OutOrStdout(), submissions)
			return nil
		}

		blocks, err := provider.Blocks()
		if err != nil {
			return err
		}
		if output == "yaml" {
			return writeYAML(cmd.OutOrStdout(), lo.Ternary(blocks != nil, blocks, []state.Block{}))
		}
		writeBlocks(cmd.OutOrStdout(), blocks, time.Now())
		return nil
	},
}

func init() {
	psCmd.Flags().StringP("output", "o", "table", "output format (table, yaml)")
	psCmd.Flags().BoolP("submissions", "s", false, "group blocks by submission handle")
}

func writeYAML(w io.Writer, value any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return encoder.Close()
}
