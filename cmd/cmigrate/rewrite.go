package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/config"
	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/rewrite"
	"github.com/courseware-hq/cmigrate/internal/ui"
)

var rewriteWrite bool

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [export-dir]",
	Short: "Rewrite intra-course links in exported HTML using a saved identifier map",
	Long: `Applies the link rewrite offline, against the HTML files of the export
tree instead of the live target course. Useful for inspecting what a run's
final rewrite pass would change, or for re-running the rewrite after
extending the identifier map by hand. Without --write the files are left
untouched and only the summary is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		b, err := openBundle(args)
		if err != nil {
			return err
		}
		targetCourse := config.GetInt64("target-course")
		if targetCourse == 0 {
			return fmt.Errorf("target-course is required (flag, config.yaml, or CMIGRATE_TARGET_COURSE)")
		}

		mapPath := config.GetString("map-file")
		if mapPath == "" {
			mapPath = "idmap.json"
		}
		m, err := idmap.LoadFile(mapPath)
		if err != nil {
			return fmt.Errorf("failed to load identifier map: %w", err)
		}

		rw := &rewrite.Rewriter{
			SourceCourseID: b.SourceCourseID(),
			TargetCourseID: targetCourse,
			Map:            m,
		}

		files, err := b.HTMLFiles()
		if err != nil {
			return err
		}

		var scanned, changed, rewritten, unresolved int
		for _, path := range files {
			data, err := os.ReadFile(path) // #nosec G304 - paths come from the export tree
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", path, err)
				continue
			}
			scanned++
			out, rep := rw.Rewrite(string(data))
			rewritten += rep.Rewritten
			unresolved += len(rep.Unresolved)
			if !rep.Changed() {
				continue
			}
			changed++
			if verboseFlag {
				fmt.Printf("%s: %d references\n", path, rep.Rewritten)
			}
			if rewriteWrite {
				if err := os.WriteFile(path, []byte(out), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
			}
		}

		if jsonOutput {
			outputJSON(map[string]int{
				"scanned":    scanned,
				"changed":    changed,
				"rewritten":  rewritten,
				"unresolved": unresolved,
			})
			return nil
		}
		verb := "would change"
		if rewriteWrite {
			verb = "changed"
		}
		fmt.Printf("%d files scanned, %s %d, %d references rewritten\n", scanned, verb, changed, rewritten)
		if unresolved > 0 {
			fmt.Println(ui.RenderWarn(fmt.Sprintf("%s %d references left unresolved", ui.IconWarn, unresolved)))
		}
		return nil
	},
}

func init() {
	rewriteCmd.Flags().BoolVar(&rewriteWrite, "write", false, "Write rewritten HTML back to the export tree")
}
