package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/tvgate/cmd/gen"
	"github.com/luma/tvgate/internal/meta"
)

var rootCmd = &cobra.Command{
	Use:   "tvgate",
	Short: "tvgate is the inner TCP protocol core of the Luma IPTV server",
	Long: `tvgate terminates client device connections, authenticates them,
routes the inner command protocol, fans chat out to co-viewers of a
stream and bridges the external pub/sub bus into connected clients.`,
	Version: meta.Version,
}

func init() {
	rootCmd.AddCommand(StartCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the CLI. Bind and bus connect failures surface here as
// a non-zero exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
