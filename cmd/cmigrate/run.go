package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/canvas"
	"github.com/courseware-hq/cmigrate/internal/config"
	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/pipeline"
	"github.com/courseware-hq/cmigrate/internal/telemetry"
	"github.com/courseware-hq/cmigrate/internal/types"
	"github.com/courseware-hq/cmigrate/internal/ui"
)

// listOnlySource hides the backfill persister so a run with backfill
// disabled leaves the export tree untouched.
type listOnlySource struct {
	src pipeline.Source
}

func (s listOnlySource) List(kind types.Kind) ([]*types.Record, error) { return s.src.List(kind) }
func (s listOnlySource) Course() (*types.CourseRecord, error)          { return s.src.Course() }
func (s listOnlySource) SourceCourseID() int64                         { return s.src.SourceCourseID() }

var runCmd = &cobra.Command{
	Use:   "run [export-dir]",
	Short: "Migrate an export into the target course",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		b, err := openBundle(args)
		if err != nil {
			return err
		}

		baseURL := config.GetString("base-url")
		token := config.GetString("token")
		targetCourse := config.GetInt64("target-course")
		switch {
		case baseURL == "":
			return fmt.Errorf("base-url is required (flag, config.yaml, or CMIGRATE_BASE_URL)")
		case token == "":
			return fmt.Errorf("token is required (flag, config.yaml, or CMIGRATE_TOKEN)")
		case targetCourse == 0:
			return fmt.Errorf("target-course is required (flag, config.yaml, or CMIGRATE_TARGET_COURSE)")
		}

		client := canvas.NewHTTPClient(baseURL, token, targetCourse)
		if policy := config.GetString("on-duplicate"); policy != "" {
			client.OnDuplicate = policy
		}
		if timeout := config.GetDuration("http-timeout"); timeout > 0 {
			client.HTTP.Timeout = timeout
		}

		m, mapPath, err := loadMap()
		if err != nil {
			return err
		}

		var source pipeline.Source = b
		if !config.GetBool("backfill") {
			source = listOnlySource{src: b}
		}

		p := pipeline.New(source, client, m, targetCourse)
		p.RewriteConcurrency = config.GetInt("rewrite-concurrency")

		ctx, span := telemetry.Tracer("").Start(rootCtx, "migration.run")
		res, runErr := p.Run(ctx, nil)
		for stage, c := range res.Counters {
			telemetry.RecordStageCounters(ctx, string(stage), c.Created, c.Skipped, c.Failed)
		}
		mi := res.ModuleItems
		telemetry.RecordStageCounters(ctx, "module_items", mi.Created, mi.Skipped, mi.Failed)
		span.End()

		// Persist bindings even after an abort so a resumed run skips work.
		if err := m.SaveFile(mapPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save identifier map: %v\n", err)
		}

		if jsonOutput {
			outputJSON(res)
		} else {
			cmd.Print(ui.RenderResult(res))
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		}
		return nil
	},
}

// loadMap returns the identifier map to run with, resumed from disk when a
// previous run left one, plus the path it should be saved back to.
func loadMap() (*idmap.Map, string, error) {
	path := config.GetString("map-file")
	if path == "" {
		path = "idmap.json"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return idmap.New(), path, nil
		}
		return nil, "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	m, err := idmap.LoadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load identifier map: %w", err)
	}
	return m, path, nil
}
