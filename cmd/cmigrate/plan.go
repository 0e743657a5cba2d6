package main

import (
	"github.com/spf13/cobra"

	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/pipeline"
	"github.com/courseware-hq/cmigrate/internal/ui"
)

var planCmd = &cobra.Command{
	Use:   "plan [export-dir]",
	Short: "Show what a run would migrate, without side effects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBundle(args)
		if err != nil {
			return err
		}

		// Planning never talks to the remote, so no client is wired.
		p := pipeline.New(b, nil, idmap.New(), 0)
		res, err := p.Plan(nil)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(res.Counters)
			return nil
		}
		cmd.Print(ui.RenderPlan(res))
		return nil
	},
}
