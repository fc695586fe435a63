package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate completion script",
	Long: `Generate a shell completion script for stagehand.

Bash (system-wide on the portal host):
  $ stagehand completion bash > /etc/bash_completion.d/stagehand

Zsh:
  $ stagehand completion zsh > "${fpath[1]}/_stagehand"

Fish:
  $ stagehand completion fish > ~/.config/fish/completions/stagehand.fish

Start a new shell for the completions to take effect. The --config flag and
"store seed" complete YAML files; --export-dir completes directories.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		default:
			return cmd.Root().GenBashCompletionV2(os.Stdout, true)
		}
	},
}

// completeYAML offers YAML files for config and fixture arguments
func completeYAML(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
