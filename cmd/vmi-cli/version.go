package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-vmi/vmi/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Printf("%s %s (%s)\n", version.Name, version.Tag, version.SHA)
		return nil
	},
}
