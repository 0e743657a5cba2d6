package pipeline

import (
	"context"
	"errors"

	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/resolve"
	"github.com/courseware-hq/cmigrate/internal/types"
)

// itemNamespace maps a membership record to the namespace its resolution
// reads. External links and subheaders need none.
func itemNamespace(item types.ModuleItem) (idmap.Namespace, bool) {
	switch types.NormalizeItemType(string(item.Type)) {
	case types.ItemPage:
		return idmap.PagesURL, true
	case types.ItemAssignment:
		return idmap.Assignments, true
	case types.ItemQuiz:
		return idmap.Quizzes, true
	case types.ItemDiscussion:
		return idmap.Discussions, true
	case types.ItemFile:
		return idmap.Files, true
	default:
		return "", false
	}
}

var namespaceStage = map[idmap.Namespace]Stage{
	idmap.PagesURL:    StagePages,
	idmap.Assignments: StageAssignments,
	idmap.Quizzes:     StageQuizzes,
	idmap.Discussions: StageDiscussions,
	idmap.Files:       StageFiles,
}

// checkDependencies detects the wholly-exhausted case: module items reference
// a namespace that stayed empty although its stage had records to migrate.
// Individual unresolved items are merely skipped; a namespace that should
// have entries but has none means the upstream stage failed outright, and
// creating modules would skip every dependent item.
func (r *run) checkDependencies() error {
	needed := make(map[idmap.Namespace]bool)
	for _, ms := range r.memberships {
		if ns, ok := itemNamespace(ms.Item); ok {
			needed[ns] = true
		}
	}
	for ns := range needed {
		if r.p.Map.Len(ns) > 0 {
			continue
		}
		stage, ok := namespaceStage[ns]
		if !ok {
			continue
		}
		if c, ran := r.res.Counters[stage]; ran && c.Total > 0 {
			return &StageDependencyExhaustedError{Stage: StageModules, Namespace: ns}
		}
	}
	return nil
}

// modulesStage creates containers and their items. Module-level counters
// land in the stage counters; item outcomes are aggregated separately so a
// module with a handful of skipped items still counts created.
func (r *run) modulesStage(ctx context.Context) error {
	if err := r.checkDependencies(); err != nil {
		return err
	}

	modules := r.records[types.KindModule]
	c := Counters{Total: len(modules)}
	for _, mod := range modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		newID, err := r.p.Client.CreateModule(ctx, mod)
		if err != nil {
			c.Failed++
			r.res.Failures = append(r.res.Failures, ItemFailure{
				Stage:     StageModules,
				Kind:      types.KindModule,
				SourceKey: mod.SourceKey(),
				Reason:    err.Error(),
			})
			warnf("module %s failed: %v", mod.SourceKey(), err)
			continue
		}
		if err := r.p.Map.PutInt(idmap.Modules, mod.SourceID, newID); err != nil {
			r.res.Counters[StageModules] = c
			return err
		}
		c.Created++

		if mod.Module == nil {
			continue
		}
		items := make([]types.ModuleItem, len(mod.Module.Items))
		copy(items, mod.Module.Items)
		resolve.SortModuleItems(items)
		for _, item := range items {
			r.createModuleItem(ctx, newID, mod, item)
		}
	}
	r.res.Counters[StageModules] = c
	return nil
}

func (r *run) createModuleItem(ctx context.Context, moduleID int64, mod *types.Record, item types.ModuleItem) {
	r.res.ModuleItems.Total++

	ref, err := resolve.ResolveItemRef(item, r.p.Map)
	if err != nil {
		// Skip without retry: the leaf's own stage already ran, so an
		// absent mapping will not appear later.
		r.res.ModuleItems.Skipped++
		var skip *resolve.SkipError
		if errors.As(err, &skip) {
			warnf("module %s item %d skipped: %s", mod.SourceKey(), item.ItemID, skip.Reason)
		}
		return
	}

	if _, err := r.p.Client.CreateModuleItem(ctx, moduleID, item, ref); err != nil {
		r.res.ModuleItems.Failed++
		r.res.Failures = append(r.res.Failures, ItemFailure{
			Stage:     StageModules,
			Kind:      types.KindModule,
			SourceKey: mod.SourceKey(),
			Reason:    err.Error(),
		})
		warnf("module %s item %d failed: %v", mod.SourceKey(), item.ItemID, err)
		return
	}
	r.res.ModuleItems.Created++
}
