package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/config"
	"github.com/courseware-hq/cmigrate/internal/telemetry"
)

var (
	jsonOutput  bool
	verboseFlag bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func init() {
	// Initialize viper configuration
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	pf := rootCmd.PersistentFlags()
	pf.String("base-url", "", "Target Canvas instance, e.g. https://school.instructure.com")
	pf.String("token", "", "Canvas API token (default: $CMIGRATE_TOKEN)")
	pf.Int64("target-course", 0, "Target course ID on the destination instance")
	pf.String("map-file", "", "Identifier map file (default: .cmigrate/idmap.json)")
	pf.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")

	if v := config.Viper(); v != nil {
		_ = v.BindPFlag("base-url", pf.Lookup("base-url"))
		_ = v.BindPFlag("token", pf.Lookup("token"))
		_ = v.BindPFlag("target-course", pf.Lookup("target-course"))
		_ = v.BindPFlag("map-file", pf.Lookup("map-file"))
		_ = v.BindPFlag("json", pf.Lookup("json"))
	}

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:   "cmigrate",
	Short: "cmigrate - Canvas course content migration",
	Long: `Migrates an exported Canvas course into a target course on another
instance: files, pages, assignments, quizzes, discussions, rubrics,
modules, and settings, with identifier remapping and link rewriting.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("cmigrate version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		if err := telemetry.Init(rootCtx, "cmigrate", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)

		if rootCancel != nil {
			rootCancel()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
