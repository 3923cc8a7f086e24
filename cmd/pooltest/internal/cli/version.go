package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version of pooltest.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pooltest %s\n", version)
		fmt.Println("Adaptive group testing simulator with Bayesian pool selection")
	},
}
