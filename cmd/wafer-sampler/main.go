package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "wafer-sampler",
	Short: "Wafer sampling strategy engine for semiconductor metrology",
	Long: `Wafer Sampler parses die layout schematics (GDSII, DXF, SVG), compiles
declarative sampling strategies, simulates site selection against wafer maps,
validates placements against real die geometry, and exports vendor-specific
sampling plans for metrology tools.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
}

// Commands are defined in separate files:
// - serveCmd in serve.go
// - parseCmd in parse.go
// - simulateCmd in simulate.go
// - validateCmd in validate.go
// - exportCmd in export.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
