package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script",
	Long: `Print a completion script for bash, zsh, fish or powershell to stdout.
Completion covers subcommands (run, daemon, check, status, forget, validate)
and their flags.

Load it in the current shell:
  source <(triggerdockerbuild completion bash)
  triggerdockerbuild completion fish | source

Or install it for every session, for example:
  triggerdockerbuild completion bash > /etc/bash_completion.d/triggerdockerbuild
  triggerdockerbuild completion zsh > "${fpath[1]}/_triggerdockerbuild"
  triggerdockerbuild completion fish > ~/.config/fish/completions/triggerdockerbuild.fish`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeCompletion(os.Stdout, args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// writeCompletion writes the completion script for shell to w
func writeCompletion(w io.Writer, shell string) error {
	switch shell {
	case "bash":
		return rootCmd.GenBashCompletionV2(w, true)
	case "zsh":
		return rootCmd.GenZshCompletion(w)
	case "fish":
		return rootCmd.GenFishCompletion(w, true)
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell %q", shell)
	}
}
