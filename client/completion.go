package main

import (
	providerpkg "github.com/gammadia/blockpool/provider"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate shell completion scripts",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

var completionBashCmd = &cobra.Command{
	Use:   "bash",
	Short: "Generate bash completion script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return blocksCmd.GenBashCompletionV2(cmd.OutOrStdout(), true)
	},
}

var completionZshCmd = &cobra.Command{
	Use:   "zsh",
	Short: "Generate zsh completion script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return blocksCmd.GenZshCompletion(cmd.OutOrStdout())
	},
}

var completionFishCmd = &cobra.Command{
	Use:   "fish",
	Short: "Generate fish completion script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return blocksCmd.GenFishCompletion(cmd.OutOrStdout(), true)
	},
}

func init() {
	completionCmd.AddCommand(completionBashCmd, completionZshCmd, completionFishCmd)

	cancelCmd.ValidArgsFunction = completeHandles
	statusCmd.ValidArgsFunction = completeHandles
}

// completeHandles suggests the handles of the tracked submissions not already
// on the command line. It suggests nothing when the state could not be opened,
// for instance while a daemon holds it.
func completeHandles(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if provider == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	submissions, err := provider.Submissions()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return lo.FilterMap(submissions, func(submission providerpkg.Submission, _ int) (string, bool) {
		handle := submission.Handle.String()
		return handle, handle != "" && !lo.Contains(args, handle)
	}), cobra.ShellCompDirectiveNoFileComp
}
