package ui

import (
	"strings"
	"testing"

	"github.com/courseware-hq/cmigrate/internal/pipeline"
)

func TestRenderPlanListsEveryStage(t *testing.T) {
	res := &pipeline.Result{
		State: pipeline.StatePlanned,
		Counters: map[pipeline.Stage]pipeline.Counters{
			pipeline.StageFiles: {Total: 3},
			pipeline.StagePages: {Total: 12},
		},
		Warnings: []string{"2 sibling groups share a position value; title/id tie-break decides their order"},
	}
	out := RenderPlan(res)
	for _, stage := range pipeline.DefaultStages() {
		if !strings.Contains(out, string(stage)) {
			t.Errorf("plan output missing stage %s:\n%s", stage, out)
		}
	}
	if !strings.Contains(out, "12 records") {
		t.Errorf("plan output missing page count:\n%s", out)
	}
	if !strings.Contains(out, "share a position") {
		t.Errorf("plan output missing warning:\n%s", out)
	}
}

func TestRenderResultFailuresAndNotRun(t *testing.T) {
	res := &pipeline.Result{
		State: pipeline.StateAborted,
		Counters: map[pipeline.Stage]pipeline.Counters{
			pipeline.StageFiles: {Created: 2, Total: 2},
			pipeline.StagePages: {Created: 1, Failed: 1, Total: 2},
		},
		Failures: []pipeline.ItemFailure{
			{Stage: pipeline.StagePages, SourceKey: "welcome", Reason: "rejected"},
		},
		NotRun: []pipeline.Stage{pipeline.StageModules, pipeline.StageSettings},
	}
	out := RenderResult(res)
	if !strings.Contains(out, "aborted") {
		t.Errorf("expected aborted header:\n%s", out)
	}
	if !strings.Contains(out, "pages/welcome: rejected") {
		t.Errorf("expected failure detail:\n%s", out)
	}
	if !strings.Contains(out, "not run") {
		t.Errorf("expected not-run marker:\n%s", out)
	}
}

func TestRenderResultModuleItemsAndRewrite(t *testing.T) {
	res := &pipeline.Result{
		State: pipeline.StateCompleted,
		Counters: map[pipeline.Stage]pipeline.Counters{
			pipeline.StageModules: {Created: 1, Total: 1},
		},
		ModuleItems: pipeline.Counters{Created: 4, Skipped: 1, Total: 5},
		Rewrite:     pipeline.RewriteSummary{Scanned: 6, Updated: 2, Rewritten: 9},
	}
	out := RenderResult(res)
	if !strings.Contains(out, "module items") {
		t.Errorf("expected module item line:\n%s", out)
	}
	if !strings.Contains(out, "6 bodies scanned, 2 updated, 9 references rewritten") {
		t.Errorf("expected rewrite summary:\n%s", out)
	}
}
