package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generators for tvgate distribution artifacts",
	Long:  `Generators for tvgate distribution artifacts`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
