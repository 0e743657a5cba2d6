package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/bundle"
	"github.com/courseware-hq/cmigrate/internal/config"
	"github.com/courseware-hq/cmigrate/internal/types"
	"github.com/courseware-hq/cmigrate/internal/ui"
)

// openBundle resolves the export directory from the argument list or the
// export-dir config key.
func openBundle(args []string) (*bundle.Bundle, error) {
	dir := config.ExportDir()
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return nil, fmt.Errorf("no export directory given (argument or export-dir config key)")
	}
	return bundle.Open(dir)
}

var scanCmd = &cobra.Command{
	Use:   "scan [export-dir]",
	Short: "Count the records in an export tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBundle(args)
		if err != nil {
			return err
		}
		counts, err := b.Scan()
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(counts)
			return nil
		}

		fmt.Println(ui.RenderCategory(fmt.Sprintf("course %d", b.SourceCourseID())))
		kinds := make([]string, 0, len(counts))
		for kind := range counts {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Printf("  %-17s %d\n", kind, counts[types.Kind(kind)])
		}
		return nil
	},
}
