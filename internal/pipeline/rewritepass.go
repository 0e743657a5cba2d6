package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/courseware-hq/cmigrate/internal/rewrite"
)

const defaultRewriteConcurrency = 4

// rewritePass rewrites intra-course links in every body created during the
// run, in one pass after all entity stages. Bodies are independent, so the
// pass fans out; the rewriter only reads the identifier map. Update failures
// are warnings, not failures: the entity exists, only its links are stale.
func (r *run) rewritePass(ctx context.Context) error {
	rw := &rewrite.Rewriter{
		SourceCourseID: r.p.Source.SourceCourseID(),
		TargetCourseID: r.p.TargetCourseID,
		Map:            r.p.Map,
	}

	limit := r.p.RewriteConcurrency
	if limit <= 0 {
		limit = defaultRewriteConcurrency
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	account := func(rep rewrite.Report, updated bool) {
		mu.Lock()
		defer mu.Unlock()
		r.res.Rewrite.Scanned++
		r.res.Rewrite.Rewritten += rep.Rewritten
		if updated {
			r.res.Rewrite.Updated++
		}
		r.res.Rewrite.Unresolved = append(r.res.Rewrite.Unresolved, rep.Unresolved...)
	}

	for _, page := range r.createdPages {
		g.Go(func() error {
			body, rep := rw.Rewrite(page.Body)
			updated := false
			if rep.Changed() {
				if err := r.p.Client.UpdatePageBody(ctx, page.Key, body); err != nil {
					warnf("rewrite of page %s not applied: %v", page.Key, err)
				} else {
					updated = true
				}
			}
			account(rep, updated)
			return nil
		})
	}
	for _, a := range r.createdAssignments {
		g.Go(func() error {
			body, rep := rw.Rewrite(a.Body)
			updated := false
			if rep.Changed() {
				if err := r.p.Client.UpdateAssignmentDescription(ctx, a.ID, body); err != nil {
					warnf("rewrite of assignment %d not applied: %v", a.ID, err)
				} else {
					updated = true
				}
			}
			account(rep, updated)
			return nil
		})
	}
	for _, q := range r.createdQuizzes {
		g.Go(func() error {
			body, rep := rw.Rewrite(q.Body)
			updated := false
			if rep.Changed() {
				if err := r.p.Client.UpdateQuizDescription(ctx, q.ID, body); err != nil {
					warnf("rewrite of quiz %d not applied: %v", q.ID, err)
				} else {
					updated = true
				}
			}
			account(rep, updated)
			return nil
		})
	}
	for _, d := range r.createdDiscussions {
		g.Go(func() error {
			body, rep := rw.Rewrite(d.Body)
			updated := false
			if rep.Changed() {
				if err := r.p.Client.UpdateDiscussionMessage(ctx, d.ID, body); err != nil {
					warnf("rewrite of discussion %d not applied: %v", d.ID, err)
				} else {
					updated = true
				}
			}
			account(rep, updated)
			return nil
		})
	}

	return g.Wait()
}
