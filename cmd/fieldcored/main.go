// Package main provides the fieldcored server CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

// configFile is set by the --config flag.
var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fieldcored",
	Short: "fieldcored is the record validity and retrieval engine",
	Long: `fieldcored stores structured research records across six typed
collections, keeps an entity catalog with an association graph, and gates
every record write on the validity of its (experiment, season, site,
dataset, emitter) combination.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: fieldcore.yaml in the working directory)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("fieldcored " + version)
	},
}
