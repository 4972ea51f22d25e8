package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/anita5511/oneplace/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buildinfo.GetBuildInfo())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
