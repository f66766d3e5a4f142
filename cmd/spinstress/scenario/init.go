package scenario

import (
	"github.com/go-spin/spinlock/config"
	"github.com/spf13/cobra"
)

var InitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "write a scenario file template",
	Long:  "init writes a scenario file covering all three protocols, ready for run --config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "spinstress.yaml"
		if len(args) > 0 {
			name = args[0]
		}
		return config.InitAndCreate(name)
	},
}
