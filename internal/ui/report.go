package ui

import (
	"fmt"
	"strings"

	"github.com/courseware-hq/cmigrate/internal/pipeline"
)

// RenderPlan renders the dry-run stage counts.
func RenderPlan(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString(RenderCategory("migration plan") + "\n")
	b.WriteString(RenderSeparator() + "\n")
	for _, stage := range pipeline.DefaultStages() {
		c := res.Counters[stage]
		b.WriteString(fmt.Sprintf("  %-17s %s\n", stage, planCount(c.Total)))
	}
	if res.ModuleItems.Total > 0 {
		b.WriteString(fmt.Sprintf("  %-17s %s\n", "module items", planCount(res.ModuleItems.Total)))
	}
	for _, w := range res.Warnings {
		b.WriteString("  " + RenderWarn(IconWarn+" "+w) + "\n")
	}
	return b.String()
}

func planCount(n int) string {
	if n == 0 {
		return RenderMuted("0 records")
	}
	return RenderAccent(fmt.Sprintf("%d records", n))
}

// RenderResult renders the per-stage outcome table plus the module-item,
// rewrite, and failure sections for a completed or aborted run.
func RenderResult(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString(RenderCategory("migration "+res.State.String()) + "\n")
	b.WriteString(RenderSeparator() + "\n")

	notRun := make(map[pipeline.Stage]bool, len(res.NotRun))
	for _, stage := range res.NotRun {
		notRun[stage] = true
	}
	for _, stage := range pipeline.DefaultStages() {
		if notRun[stage] {
			b.WriteString(fmt.Sprintf("  %s %-17s %s\n", MutedStyle.Render(IconSkip), stage, RenderMuted("not run")))
			continue
		}
		c, ok := res.Counters[stage]
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s %-17s %s\n", stageIcon(c), stage, counterLine(c)))
	}

	if res.ModuleItems.Total > 0 {
		b.WriteString(fmt.Sprintf("  %s %-17s %s\n", stageIcon(res.ModuleItems), "module items", counterLine(res.ModuleItems)))
	}

	if res.Rewrite.Scanned > 0 {
		b.WriteString(RenderSeparator() + "\n")
		b.WriteString(fmt.Sprintf("  links: %d bodies scanned, %d updated, %d references rewritten\n",
			res.Rewrite.Scanned, res.Rewrite.Updated, res.Rewrite.Rewritten))
		if n := len(res.Rewrite.Unresolved); n > 0 {
			b.WriteString("  " + RenderWarn(fmt.Sprintf("%s %d references left unresolved", IconWarn, n)) + "\n")
		}
	}

	if len(res.Failures) > 0 {
		b.WriteString(RenderSeparator() + "\n")
		b.WriteString(RenderFail(fmt.Sprintf("%s %d items failed", IconFail, len(res.Failures))) + "\n")
		for _, f := range res.Failures {
			b.WriteString(fmt.Sprintf("  %s/%s: %s\n", f.Stage, f.SourceKey, f.Reason))
		}
	}

	return b.String()
}

func stageIcon(c pipeline.Counters) string {
	switch {
	case c.Failed > 0:
		return FailStyle.Render(IconFail)
	case c.Skipped > 0:
		return WarnStyle.Render(IconWarn)
	default:
		return PassStyle.Render(IconPass)
	}
}

func counterLine(c pipeline.Counters) string {
	parts := []string{RenderPass(fmt.Sprintf("%d created", c.Created))}
	if c.Skipped > 0 {
		parts = append(parts, RenderWarn(fmt.Sprintf("%d skipped", c.Skipped)))
	}
	if c.Failed > 0 {
		parts = append(parts, RenderFail(fmt.Sprintf("%d failed", c.Failed)))
	}
	return strings.Join(parts, ", ") + RenderMuted(fmt.Sprintf(" (of %d)", c.Total))
}
